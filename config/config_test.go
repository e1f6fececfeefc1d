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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/config/provider"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "adk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoaderAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "app_name: demo\n")
	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	cfg, err := NewLoader(p).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.AppName)
	require.Equal(t, 10, cfg.MaxToolIterations)
	require.Equal(t, 120000, cfg.InvocationTimeoutMS)
	require.Equal(t, 256, cfg.SessionEventCapacity)
	require.Equal(t, "memory", cfg.Session.Backend)
}

func TestLoaderExpandsEnvVars(t *testing.T) {
	t.Setenv("ADK_TEST_APP_NAME", "from-env")
	path := writeTempConfig(t, "app_name: ${ADK_TEST_APP_NAME}\n")
	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	cfg, err := NewLoader(p).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.AppName)
}

func TestLoaderEnvVarTableOverridesYAML(t *testing.T) {
	t.Setenv("ADK_MAX_TOOL_ITERATIONS", "25")
	path := writeTempConfig(t, "app_name: demo\nmax_tool_iterations: 5\n")
	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	cfg, err := NewLoader(p).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 25, cfg.MaxToolIterations)
}

func TestLoaderRejectsUnknownSessionBackend(t *testing.T) {
	path := writeTempConfig(t, "session:\n  backend: oracle\n")
	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	_, err = NewLoader(p).Load(context.Background())
	require.Error(t, err)
}

func TestLoaderRequiresDSNForNonMemoryBackend(t *testing.T) {
	path := writeTempConfig(t, "session:\n  backend: postgres\n")
	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	_, err = NewLoader(p).Load(context.Background())
	require.Error(t, err)
}
