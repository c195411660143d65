package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eleven-am/conduit/internal/adapters/definition"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetYAML = `
name: greet
start: hello
nodes:
  hello:
    type: Passthrough
    config:
      greeting: hi
  shape:
    type: JSONTransformer
    config:
      mappings:
        message: greeting
        who: name
connections:
  - source: hello
    target: shape
    target_input: data
outputs:
  message:
    node: shape
    path: message
  who:
    node: shape
    path: who
`

func testConfig(t *testing.T, dir string) *domain.Config {
	t.Helper()
	config := domain.DefaultConfig()
	config.Definitions.Dir = dir
	config.HTTP.Enabled = false
	config.GRPC.Enabled = false
	return config
}

func writeDefinition(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func startManager(t *testing.T, config *domain.Config) *Manager {
	t.Helper()
	ctx := context.Background()

	manager, err := New(ctx, config)
	require.NoError(t, err)
	require.NoError(t, manager.Start(ctx))
	t.Cleanup(func() { _ = manager.Stop(context.Background()) })
	return manager
}

func TestManager_RunsLoadedDefinition(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "greet.yaml", greetYAML)

	manager := startManager(t, testConfig(t, dir))
	assert.True(t, manager.Healthy())

	infos := manager.Workflows()
	require.Len(t, infos, 1)
	assert.Equal(t, "greet", infos[0].Name)
	assert.Equal(t, []string{"hello"}, infos[0].Entry)
	assert.Equal(t, []string{"hello", "shape"}, infos[0].Nodes)

	snap, err := manager.Run(context.Background(), "greet", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Equal(t, map[string]interface{}{"message": "hi", "who": "Ada"}, snap.Output)

	stored, err := manager.Snapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Status, stored.Status)

	events, err := manager.RunEvents(context.Background(), snap.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRunStarted, events[0].Type)
	assert.Equal(t, domain.EventRunCompleted, events[len(events)-1].Type)

	metrics := manager.Metrics()
	assert.Equal(t, int64(1), metrics.RunsCompleted)
}

func TestManager_TriggerAndWait(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "greet.yaml", greetYAML)
	manager := startManager(t, testConfig(t, dir))

	completed := make(chan string, 1)
	_, unsubscribe := manager.Subscribe("run.completed", func(e domain.Event) { completed <- e.RunID })
	defer unsubscribe()

	runID, err := manager.Trigger(context.Background(), "greet", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := manager.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, snap.Status)

	runs, err := manager.ListRuns(context.Background(), domain.RunFilter{Workflow: "greet"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)

	select {
	case id := <-completed:
		assert.Equal(t, runID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("run.completed was not delivered")
	}
}

func TestManager_UnknownWorkflow(t *testing.T) {
	manager := startManager(t, testConfig(t, ""))

	_, err := manager.Trigger(context.Background(), "missing", nil)
	assert.True(t, domain.IsNotFound(err))

	_, err = manager.DescribeWorkflow("missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestManager_RejectsUnknownNodeType(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "broken.yaml", `
name: broken
nodes:
  a:
    type: Nope
`)

	manager, err := New(context.Background(), testConfig(t, dir))
	require.NoError(t, err)
	defer manager.Stop(context.Background())

	err = manager.Start(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsDefinitionError(err))
	assert.Contains(t, err.Error(), `unknown type "Nope"`)
	assert.False(t, manager.Healthy())
}

func TestManager_MissingDefinitionsDirIsEmpty(t *testing.T) {
	manager := startManager(t, testConfig(t, filepath.Join(t.TempDir(), "absent")))
	assert.Empty(t, manager.Workflows())
}

func TestManager_AddWorkflow(t *testing.T) {
	manager := startManager(t, testConfig(t, ""))

	doc, err := definition.Decode([]byte(greetYAML), definition.FormatYAML)
	require.NoError(t, err)

	graph, err := manager.AddWorkflow(doc)
	require.NoError(t, err)
	assert.Equal(t, "greet", graph.Name())

	info, err := manager.DescribeWorkflow("greet")
	require.NoError(t, err)
	assert.Len(t, info.Nodes, 2)

	snap, err := manager.Execute(context.Background(), graph, map[string]interface{}{"name": "Lin"})
	require.NoError(t, err)
	assert.Equal(t, "Lin", snap.Output["who"])
}

func TestManager_BadgerJournal(t *testing.T) {
	config := testConfig(t, "")
	config.WithBadgerStorage(filepath.Join(t.TempDir(), "runs"))
	manager := startManager(t, config)

	doc, err := definition.Decode([]byte(greetYAML), definition.FormatYAML)
	require.NoError(t, err)
	_, err = manager.AddWorkflow(doc)
	require.NoError(t, err)

	snap, err := manager.Run(context.Background(), "greet", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)

	events, err := manager.RunEvents(context.Background(), snap.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRunCompleted, events[len(events)-1].Type)
	for _, e := range events {
		if e.RunID != snap.ID {
			t.Errorf("journal returned event for run %s", e.RunID)
		}
	}
}

func TestManager_StopRefusesRuns(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "greet.yaml", greetYAML)
	manager := startManager(t, testConfig(t, dir))

	require.NoError(t, manager.Stop(context.Background()))
	require.NoError(t, manager.Stop(context.Background()))
	assert.False(t, manager.Healthy())

	_, err := manager.Trigger(context.Background(), "greet", nil)
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, manager.Start(context.Background()), domain.ErrClosed)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	config := testConfig(t, "")
	config.Storage.Type = "etcd"

	_, err := New(context.Background(), config)
	var configErr *domain.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "storage.type", configErr.Field)
}

func TestNew_FillsEngineDefaults(t *testing.T) {
	config := &domain.Config{Storage: domain.DefaultStorageConfig()}
	manager, err := New(context.Background(), config)
	require.NoError(t, err)
	defer manager.Stop(context.Background())

	assert.Equal(t, domain.DefaultEngineConfig().MaxConcurrentRuns, manager.Config().Engine.MaxConcurrentRuns)
	assert.Contains(t, typeNames(manager), "JSONTransformer")
	assert.Contains(t, typeNames(manager), "Logger")
}

func typeNames(m *Manager) []string {
	var out []string
	for _, info := range m.NodeTypes() {
		out = append(out, info.Type)
	}
	return out
}
