// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/maestro/pkg/logger"
)

// Environment variables consulted when flags are unset.
const (
	logFileEnvVar   = "LOG_FILE"
	logLevelEnvVar  = "LOG_LEVEL"
	logFormatEnvVar = "LOG_FORMAT"
)

// initLogger wires the process logger from CLI flags and environment.
// Priority: flags > env vars > defaults.
func initLogger(cli *CLI) (func(), error) {
	level := cli.LogLevel
	if level == "" {
		level = os.Getenv(logLevelEnvVar)
	}

	file := cli.LogFile
	if file == "" {
		file = os.Getenv(logFileEnvVar)
	}

	format := cli.LogFormat
	if format == "" {
		format = os.Getenv(logFormatEnvVar)
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}
