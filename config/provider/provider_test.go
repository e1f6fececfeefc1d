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

package provider_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/config/provider"
)

func TestParseTypeDefaultsToFile(t *testing.T) {
	typ, err := provider.ParseType("")
	require.NoError(t, err)
	require.Equal(t, provider.TypeFile, typ)
}

func TestParseTypeAcceptsKnownAliases(t *testing.T) {
	typ, err := provider.ParseType("zk")
	require.NoError(t, err)
	require.Equal(t, provider.TypeZookeeper, typ)
}

func TestParseTypeRejectsUnknown(t *testing.T) {
	_, err := provider.ParseType("etcd")
	require.Error(t, err)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := provider.New(provider.Options{})
	require.Error(t, err)
}

func TestNewBuildsFileProviderByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: demo\n"), 0o644))

	p, err := provider.New(provider.Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	require.Equal(t, provider.TypeFile, p.Type())
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := provider.New(provider.Options{Type: "etcd", Path: "x"})
	require.Error(t, err)
}

func TestFileProviderLoadReadsContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: demo\n"), 0o644))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "app_name: demo\n", string(data))
}

func TestFileProviderLoadMissingFileErrors(t *testing.T) {
	p, err := provider.NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	_, err = p.Load(context.Background())
	require.Error(t, err)
}

func TestFileProviderWatchSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: demo\n"), 0o644))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("app_name: demo2\n"), 0o644))

	select {
	case _, ok := <-ch:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch signal")
	}
}

func TestFileProviderWatchAfterCloseErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: demo\n"), 0o644))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Watch(context.Background())
	require.Error(t, err)
}

func TestFileProviderCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: demo\n"), 0o644))

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = p.Watch(ctx)
	require.NoError(t, err)
	cancel()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
