/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger for hosts that log with zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
}

func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: l.With().Str("component", "nestdb").Logger()}
}

func (z *ZerologLogger) SetLevel(level LogLevel) {
	switch level {
	case LogLevelDebug:
		z.logger = z.logger.Level(zerolog.DebugLevel)
	case LogLevelInfo:
		z.logger = z.logger.Level(zerolog.InfoLevel)
	case LogLevelWarn:
		z.logger = z.logger.Level(zerolog.WarnLevel)
	case LogLevelError:
		z.logger = z.logger.Level(zerolog.ErrorLevel)
	}
}

func (z *ZerologLogger) Debug(msg string, fields ...interface{}) {
	withFields(z.logger.Debug(), fields).Msg(msg)
}

func (z *ZerologLogger) Info(msg string, fields ...interface{}) {
	withFields(z.logger.Info(), fields).Msg(msg)
}

func (z *ZerologLogger) Warn(msg string, fields ...interface{}) {
	withFields(z.logger.Warn(), fields).Msg(msg)
}

func (z *ZerologLogger) Error(msg string, fields ...interface{}) {
	withFields(z.logger.Error(), fields).Msg(msg)
}

func withFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if err, ok := kv[i+1].(error); ok {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
