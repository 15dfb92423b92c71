// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

package config

import (
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
)

// R2Credentials holds the S3-compatible credentials the S3 backend reads
// from the environment.
type R2Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	URL             string
	Bucket          string
}

// LoadEnv loads a .env file (default "./.env", overridable with
// PARQUEDB_ENV_PATH) into the process environment. Missing or unreadable
// files are logged and otherwise ignored — .env is a convenience for local
// development, not a hard dependency.
func LoadEnv(logger log.Logger, getenv func(string) string) {
	envPath := getenv("PARQUEDB_ENV_PATH")
	if envPath == "" {
		envPath = ".env"
	}
	absEnvPath, err := filepath.Abs(envPath)
	if err != nil {
		level.Warn(logger).Log("msg", "resolving .env path", "path", envPath, "err", err)
		return
	}
	if err := godotenv.Load(absEnvPath); err != nil {
		level.Debug(logger).Log("msg", "no .env file loaded", "path", absEnvPath, "err", err)
		return
	}
	level.Info(logger).Log("msg", "loaded .env file", "path", absEnvPath)
}

// R2CredentialsFromEnv reads the R2_* environment variables the S3 backend
// needs. It does not validate presence; Config.Validate does that eagerly.
func R2CredentialsFromEnv(getenv func(string) string) R2Credentials {
	return R2Credentials{
		AccessKeyID:     getenv("R2_ACCESS_KEY_ID"),
		SecretAccessKey: getenv("R2_SECRET_ACCESS_KEY"),
		URL:             getenv("R2_URL"),
		Bucket:          getenv("R2_BUCKET"),
	}
}
