package node_registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

type MockNode struct {
	keys []string
}

func (m *MockNode) ValidateInput(map[string]interface{}, ports.Schema) error { return nil }
func (m *MockNode) Execute(context.Context, map[string]interface{}, map[string]interface{}, ports.ExecutionScope) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
func (m *MockNode) DeclaredSchema() ports.Schema             { return ports.Schema{InputKeys: m.keys} }
func (m *MockNode) DeclaredRetryPolicy() *domain.RetryPolicy { return nil }

func mockFactory(domain.NodeDefinition) (ports.NodeContract, error) {
	return &MockNode{}, nil
}

func TestAdapter_Register_Success(t *testing.T) {
	adapter := NewAdapter(nil)

	err := adapter.Register("Mock", mockFactory, ports.NodeTypeInfo{Description: "test"})
	if err != nil {
		t.Errorf("Failed to register node type: %v", err)
	}

	factory, err := adapter.Resolve("Mock")
	if err != nil {
		t.Fatalf("Node type should exist after registration: %v", err)
	}

	node, err := factory(domain.NodeDefinition{ID: "n1", Type: "Mock"})
	if err != nil || node == nil {
		t.Errorf("Expected factory to build a node, got %v", err)
	}

	info, ok := adapter.Describe("Mock")
	if !ok || info.Type != "Mock" || info.Description != "test" {
		t.Errorf("Unexpected type info %+v", info)
	}
}

func TestAdapter_Register_NilFactory(t *testing.T) {
	adapter := NewAdapter(nil)

	err := adapter.Register("Mock", nil, ports.NodeTypeInfo{})
	if err == nil {
		t.Fatal("Expected error when registering nil factory")
	}

	var regErr *ports.NodeRegistrationError
	if errors.As(err, &regErr) {
		if regErr.Reason != "factory cannot be nil" {
			t.Errorf("Expected reason 'factory cannot be nil', got '%s'", regErr.Reason)
		}
	} else {
		t.Error("Expected NodeRegistrationError")
	}
}

func TestAdapter_Register_EmptyAndDuplicate(t *testing.T) {
	adapter := NewAdapter(nil)

	if err := adapter.Register("", mockFactory, ports.NodeTypeInfo{}); err == nil {
		t.Error("Expected error for empty node type")
	}

	if err := adapter.Register("Mock", mockFactory, ports.NodeTypeInfo{}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := adapter.Register("Mock", mockFactory, ports.NodeTypeInfo{}); err == nil {
		t.Error("Expected error for duplicate node type")
	}
}

func TestAdapter_Resolve_NotFound(t *testing.T) {
	adapter := NewAdapter(nil)

	_, err := adapter.Resolve("Missing")
	if !domain.IsNotFound(err) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestAdapter_UnregisterAndList(t *testing.T) {
	adapter := NewAdapter(nil)
	_ = adapter.Register("B", mockFactory, ports.NodeTypeInfo{})
	_ = adapter.Register("A", mockFactory, ports.NodeTypeInfo{})

	types := adapter.ListTypes()
	if len(types) != 2 || types[0] != "A" || types[1] != "B" {
		t.Errorf("Expected sorted [A B], got %v", types)
	}

	if err := adapter.Unregister("A"); err != nil {
		t.Errorf("Unregister failed: %v", err)
	}
	if adapter.HasType("A") {
		t.Error("Expected A to be gone")
	}
	if err := adapter.Unregister("A"); !domain.IsNotFound(err) {
		t.Errorf("Expected not found on second unregister, got %v", err)
	}
}

func TestAdapter_RegisterNode_SharesInstance(t *testing.T) {
	adapter := NewAdapter(nil)
	node := &MockNode{keys: []string{"data"}}

	if err := adapter.RegisterNode("Shared", node, "shared node"); err != nil {
		t.Fatalf("RegisterNode failed: %v", err)
	}

	factory, _ := adapter.Resolve("Shared")
	built, _ := factory(domain.NodeDefinition{})
	if built != node {
		t.Error("Expected the registered instance to be returned")
	}

	info, _ := adapter.Describe("Shared")
	if len(info.Schema.InputKeys) != 1 {
		t.Errorf("Expected schema to be captured, got %+v", info.Schema)
	}
}

func TestAdapter_ConcurrentResolve(t *testing.T) {
	adapter := NewAdapter(nil)
	for i := 0; i < 10; i++ {
		_ = adapter.Register(fmt.Sprintf("T%d", i), mockFactory, ports.NodeTypeInfo{})
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := adapter.Resolve(fmt.Sprintf("T%d", i%10)); err != nil {
				t.Errorf("resolve failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
