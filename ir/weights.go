package ir

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// This file defines the weight storage: constant tensors backed by immutable typed buffers.

// WeightElement enumerates the element types a weight buffer can hold.
type WeightElement interface {
	float32 | int8 | int16
}

// CreateWeight adds a new top.Weight node named name, backed by a copy of data, and returns its value.
// The element type is derived from T.
//
// Weights are immutable: requantization creates a new weight and leaves the original one for
// Prune to collect once it has no uses.
func CreateWeight[T WeightElement](g *Graph, name string, data []T, dims ...int) (ValueID, error) {
	dtype := dtypes.FromGenericsType[T]()
	t := Tensor(dtype, dims...)
	if t.Size() != len(data) {
		return NoValue, errors.Errorf("weight %q with shape %s requires %d elements, got %d",
			name, t, t.Size(), len(data))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.names[name] {
		return NoValue, errors.Errorf("weight %q: name already used in graph %q", name, g.Name)
	}
	node, err := g.addNodeLocked(KindWeight, name, nil, []TensorType{t}, nil)
	if err != nil {
		return NoValue, err
	}
	g.weights[node.ID] = slices.Clone(data)
	return node.Results[0], nil
}

// weightDataLocked returns the raw buffer backing the value, without copying.
func (g *Graph) weightDataLocked(id ValueID) (any, error) {
	v, err := g.liveValueLocked(id)
	if err != nil {
		return nil, err
	}
	node := g.nodes[v.Def]
	if node.Kind != KindWeight {
		return nil, errors.Wrapf(ErrNotWeight, "value %q is defined by %s", v.Name, node)
	}
	data, found := g.weights[node.ID]
	if !found {
		return nil, errors.Wrapf(ErrNotWeight, "weight %q has no data", v.Name)
	}
	return data, nil
}

// ReadWeight returns a copy of the buffer of the weight value. T must match the weight's element type.
func ReadWeight[T WeightElement](g *Graph, id ValueID) ([]T, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	data, err := g.weightDataLocked(id)
	if err != nil {
		return nil, err
	}
	typed, ok := data.([]T)
	if !ok {
		return nil, errors.Errorf("weight #%d has element type %s, requested %s",
			id, g.values[id].Type.DType(), dtypes.FromGenericsType[T]())
	}
	return slices.Clone(typed), nil
}

// ReadWeightAsFloat32 returns the buffer of the weight value converted to float32, whatever its
// element type. Integer weights are returned as their raw (unscaled) integer values.
func ReadWeightAsFloat32(g *Graph, id ValueID) ([]float32, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	data, err := g.weightDataLocked(id)
	if err != nil {
		return nil, err
	}
	switch typed := data.(type) {
	case []float32:
		return slices.Clone(typed), nil
	case []int8:
		return convertToFloat32(typed), nil
	case []int16:
		return convertToFloat32(typed), nil
	default:
		return nil, errors.Errorf("weight #%d has unsupported buffer type %T", id, data)
	}
}

func convertToFloat32[T int8 | int16](src []T) []float32 {
	dst := make([]float32, len(src))
	for ii, v := range src {
		dst[ii] = float32(v)
	}
	return dst
}

// IsWeight reports whether the value is defined by a live top.Weight node.
func (g *Graph) IsWeight(id ValueID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := g.weightDataLocked(id)
	return err == nil
}

// RemoveWeight removes a weight constant that has no uses and is not a graph output, freeing
// its name. Lowerings use it to roll back weights created for a replacement that failed.
func (g *Graph) RemoveWeight(id ValueID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.weightDataLocked(id); err != nil {
		return err
	}
	v := g.values[id]
	if len(v.uses) > 0 || slices.Contains(g.outputs, id) {
		return errors.Errorf("weight %q is still in use", v.Name)
	}
	node := g.nodes[v.Def]
	if g.valueByName[v.Name] == id {
		delete(g.valueByName, v.Name)
	}
	delete(g.names, node.Name)
	delete(g.weights, node.ID)
	g.values[id] = nil
	g.nodes[node.ID] = nil
	return nil
}
