package ir

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildConvGraph builds input -> conv1 -> clip, with conv1 also being consumed by extra
// MinConst nodes if numExtraConsumers > 0.
func buildConvGraph(t *testing.T, numExtraConsumers int) (g *Graph, conv *Node, consumers []*Node) {
	t.Helper()
	g = New("small")
	input := g.AddInput("input", Tensor(dtypes.Float32, 1, 2, 5, 5))
	filter := must.M1(CreateWeight(g, "filter", make([]float32, 4*2*3*3), 4, 2, 3, 3))
	bias := must.M1(CreateWeight(g, "bias", []float32{0.1, 0.2, 0.3, 0.4}, 4))
	outType := Tensor(dtypes.Float32, 1, 4, 3, 3)
	conv = must.M1(g.AddNode(KindConv, "conv1", []ValueID{input, filter, bias}, []TensorType{outType},
		Attributes{
			{Name: "kernel_shape", Value: IntsAttr(3, 3)},
			{Name: "strides", Value: IntsAttr(1, 1)},
		}))
	clip := must.M1(g.AddNode(KindMinConst, "clip", []ValueID{conv.Result(0)}, []TensorType{outType},
		Attributes{{Name: "const_val", Value: FloatAttr(0.5)}}))
	consumers = append(consumers, clip)
	for ii := range numExtraConsumers {
		extra := must.M1(g.AddNode(KindMinConst, "extra"+string(rune('a'+ii)), []ValueID{conv.Result(0)},
			[]TensorType{outType}, Attributes{{Name: "const_val", Value: FloatAttr(1)}}))
		consumers = append(consumers, extra)
	}
	require.NoError(t, g.SetOutputs(clip.Result(0)))
	return
}

func TestAddNode(t *testing.T) {
	g := New("g")
	input := g.AddInput("x", Tensor(dtypes.Float32, 2, 3))
	f32 := Tensor(dtypes.Float32, 2, 3)

	t.Run("Arity", func(t *testing.T) {
		_, err := g.AddNode(KindConv, "conv", []ValueID{input}, []TensorType{f32}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedNode))

		_, err = g.AddNode(KindMinConst, "min", []ValueID{input}, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedNode))
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := g.AddNode("top.Frobnicate", "f", []ValueID{input}, []TensorType{f32}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownKind))
	})

	t.Run("InvalidOperand", func(t *testing.T) {
		_, err := g.AddNode(KindMinConst, "min", []ValueID{ValueID(1000)}, []TensorType{f32}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotLive))
	})

	t.Run("RegisteredKind", func(t *testing.T) {
		RegisterKind(KindInfo{Kind: "test.Concat", NumOperands: Variadic, NumResults: 1})
		node, err := g.AddNode("test.Concat", "concat", []ValueID{input, input, input}, []TensorType{f32}, nil)
		require.NoError(t, err)
		assert.Equal(t, "test", node.Kind.Dialect())
		assert.Equal(t, 3, g.NumUses(input))
	})
}

func TestReplace(t *testing.T) {
	t.Run("PreservesUses", func(t *testing.T) {
		g, conv, consumers := buildConvGraph(t, 2)
		oldResult := conv.Result(0)
		require.Equal(t, 3, g.NumUses(oldResult))
		filterUses := g.NumUses(conv.Operands[1])

		attrs := conv.Attrs.Clone().Set("with_bias", BoolAttr(true))
		newNode, err := g.Replace(conv.ID, KindTPUConv2D, []TensorType{g.Type(oldResult)}, conv.Operands, attrs)
		require.NoError(t, err)

		newResult := newNode.Result(0)
		assert.False(t, g.IsLive(conv.ID))
		assert.True(t, g.IsLive(newNode.ID))
		assert.Equal(t, 0, g.NumUses(oldResult))
		assert.Equal(t, 3, g.NumUses(newResult))
		for _, consumer := range consumers {
			assert.Equal(t, newResult, g.Node(consumer.ID).Operands[0])
		}
		for _, use := range g.Uses(newResult) {
			assert.Equal(t, 0, use.Operand)
		}
		// Operands of the old node are not counted twice.
		assert.Equal(t, filterUses, g.NumUses(conv.Operands[1]))

		v, found := g.ValueByName("conv1")
		require.True(t, found)
		assert.Equal(t, newResult, v.ID)
		assert.Equal(t, "conv1", newNode.Name)
		require.NoError(t, g.Verify())
	})

	t.Run("RedirectsOutputs", func(t *testing.T) {
		g, conv, _ := buildConvGraph(t, 0)
		require.NoError(t, g.SetOutputs(conv.Result(0)))
		newNode := must.M1(g.Replace(conv.ID, KindTPUConv2D, []TensorType{g.Type(conv.Result(0))}, conv.Operands, conv.Attrs))
		assert.Equal(t, []ValueID{newNode.Result(0)}, g.Outputs())
		require.NoError(t, g.Verify())
	})

	t.Run("Errors", func(t *testing.T) {
		g, conv, _ := buildConvGraph(t, 0)
		outType := g.Type(conv.Result(0))

		_, err := g.Replace(conv.ID, KindTPUConv2D, nil, conv.Operands, nil)
		assert.True(t, errors.Is(err, ErrMalformedNode))

		_, err = g.Replace(conv.ID, KindTPUConv2D, []TensorType{outType},
			[]ValueID{conv.Result(0), conv.Operands[1], NoValue}, nil)
		assert.True(t, errors.Is(err, ErrMalformedNode))

		_, err = g.Replace(conv.ID, KindTPUSlice, []TensorType{outType}, conv.Operands, nil)
		assert.True(t, errors.Is(err, ErrMalformedNode), "tpu.Slice takes 5 operands")

		// Failed replacements leave the graph untouched.
		assert.True(t, g.IsLive(conv.ID))
		require.NoError(t, g.Verify())

		must.M1(g.Replace(conv.ID, KindTPUConv2D, []TensorType{outType}, conv.Operands, nil))
		_, err = g.Replace(conv.ID, KindTPUConv2D, []TensorType{outType}, conv.Operands, nil)
		assert.True(t, errors.Is(err, ErrNotLive))
	})

	t.Run("ConcurrentReaders", func(t *testing.T) {
		g, conv, _ := buildConvGraph(t, 4)
		var wg sync.WaitGroup
		done := make(chan struct{})
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					assert.NoError(t, g.Verify())
				}
			}()
		}
		current := conv
		for range 20 {
			current = must.M1(g.Replace(current.ID, KindTPUConv2D, []TensorType{g.Type(current.Result(0))},
				current.Operands, current.Attrs))
		}
		close(done)
		wg.Wait()
		assert.Equal(t, 5, g.NumUses(current.Result(0)))
	})

	t.Run("ConsistentSnapshots", func(t *testing.T) {
		// Run with -race: readers access operands of nodes handed out by the graph without holding
		// its lock.
		g, conv, consumers := buildConvGraph(t, 4)
		var wg sync.WaitGroup
		done := make(chan struct{})
		var numPartial, numReads int
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, consumer := range consumers {
					_ = g.Node(consumer.ID).Operands[0]
				}
				var seen []ValueID
				for _, node := range g.Nodes() {
					if node.Kind == KindMinConst {
						seen = append(seen, node.Operands[0])
					}
				}
				numReads++
				for _, operand := range seen {
					if operand != seen[0] {
						numPartial++
						break
					}
				}
			}
		}()
		current := conv
		for range 2000 {
			current = must.M1(g.Replace(current.ID, KindTPUConv2D, []TensorType{g.Type(current.Result(0))},
				current.Operands, current.Attrs))
		}
		close(done)
		wg.Wait()
		assert.Zero(t, numPartial, "%d of %d snapshots were partially redirected", numPartial, numReads)

		// Nodes handed out before a rewrite keep their operands.
		assert.Equal(t, conv.Result(0), consumers[0].Operands[0])
		assert.Equal(t, current.Result(0), g.Node(consumers[0].ID).Operands[0])
		require.NoError(t, g.Verify())
	})

	t.Run("RejectsCycles", func(t *testing.T) {
		g, conv, consumers := buildConvGraph(t, 1)
		outType := g.Type(conv.Result(0))
		extra := consumers[1]
		chained := must.M1(g.AddNode(KindMinConst, "chained", []ValueID{extra.Result(0)}, []TensorType{outType},
			Attributes{{Name: "const_val", Value: FloatAttr(1)}}))

		for _, downstream := range []*Node{extra, chained} {
			_, err := g.Replace(conv.ID, KindTPUConv2D, []TensorType{outType},
				[]ValueID{downstream.Result(0), conv.Operands[1], conv.Operands[2]}, conv.Attrs)
			require.Error(t, err, "operand defined by %s", downstream)
			assert.True(t, errors.Is(err, ErrMalformedNode))
		}
		assert.True(t, g.IsLive(conv.ID))
		require.NoError(t, g.Verify())

		// Replacing a consumer with an operand from an unrelated branch is fine.
		must.M1(g.Replace(chained.ID, KindTPUMinConst, []TensorType{outType}, []ValueID{consumers[0].Result(0)},
			chained.Attrs))
		require.NoError(t, g.Verify())
	})
}

func TestWeights(t *testing.T) {
	g := New("w")
	id, err := CreateWeight(g, "w8", []int8{1, -2, 3, -4}, 2, 2)
	require.NoError(t, err)
	assert.True(t, g.IsWeight(id))
	assert.Equal(t, dtypes.Int8, g.Type(id).DType())

	data := must.M1(ReadWeight[int8](g, id))
	data[0] = 100
	assert.Equal(t, []int8{1, -2, 3, -4}, must.M1(ReadWeight[int8](g, id)), "weights must be immutable")
	assert.Equal(t, []float32{1, -2, 3, -4}, must.M1(ReadWeightAsFloat32(g, id)))

	_, err = ReadWeight[float32](g, id)
	require.Error(t, err)

	_, err = CreateWeight(g, "bad", []float32{1, 2, 3}, 2, 2)
	require.Error(t, err)
	_, err = CreateWeight(g, "w8", []int16{1}, 1)
	require.Error(t, err, "duplicate name")

	input := g.AddInput("x", Tensor(dtypes.Float32, 4))
	assert.False(t, g.IsWeight(input))
	_, err = ReadWeight[float32](g, input)
	assert.True(t, errors.Is(err, ErrNotWeight))
}

func TestPrune(t *testing.T) {
	g, conv, _ := buildConvGraph(t, 0)
	filter := must.M1(ReadWeight[float32](g, conv.Operands[1]))
	int8Filter := make([]int8, len(filter))
	newFilter := must.M1(CreateWeight(g, "conv1_filter_int8", int8Filter, 4, 2, 3, 3))
	outType := g.Type(conv.Result(0))
	must.M1(g.Replace(conv.ID, KindTPUConv2D, []TensorType{outType}, []ValueID{conv.Operands[0], newFilter, NoValue}, nil))

	// Old conv, old filter and old bias.
	numLive := len(g.Nodes())
	assert.Equal(t, 3, g.Prune())
	assert.Len(t, g.Nodes(), numLive-2)
	_, found := g.ValueByName("filter")
	assert.False(t, found)
	_, found = g.ValueByName("conv1")
	assert.True(t, found)
	require.NoError(t, g.Verify())
	assert.Equal(t, 0, g.Prune())

	// Unused inputs are kept.
	g.AddInput("unused", Tensor(dtypes.Float32, 1))
	assert.Equal(t, 0, g.Prune())
}

func TestTopologicalOrder(t *testing.T) {
	g, conv, _ := buildConvGraph(t, 2)
	must.M1(g.Replace(conv.ID, KindTPUConv2D, []TensorType{g.Type(conv.Result(0))}, conv.Operands, conv.Attrs))
	position := make(map[NodeID]int)
	order := g.TopologicalOrder()
	for ii, node := range order {
		position[node.ID] = ii
	}
	assert.Len(t, order, len(g.Nodes()))
	for _, node := range order {
		for _, operand := range node.Operands {
			if operand == NoValue {
				continue
			}
			assert.Less(t, position[g.Value(operand).Def], position[node.ID], "operand of %s", node)
		}
	}

	var visited []string
	require.NoError(t, g.Walk(func(node *Node) error {
		visited = append(visited, node.Name)
		return nil
	}))
	assert.Equal(t, []string{"input", "filter", "bias", "conv1", "clip", "extraa", "extrab"}, visited)

	t.Run("WalkSeesRedirectedOperands", func(t *testing.T) {
		g, _, _ := buildConvGraph(t, 1)
		require.NoError(t, g.Walk(func(node *Node) error {
			for ii, operand := range node.Operands {
				if operand != NoValue && g.DefiningNode(operand) != nil && !g.IsLive(g.Value(operand).Def) {
					return errors.Errorf("operand #%d of %s is defined by a replaced node", ii, node)
				}
			}
			if node.Kind == KindConv {
				_, err := g.Replace(node.ID, KindTPUConv2D, []TensorType{g.Type(node.Result(0))}, node.Operands, node.Attrs)
				return err
			}
			return nil
		}))
		require.NoError(t, g.Verify())
	})
}

func TestAttributes(t *testing.T) {
	g, conv, _ := buildConvGraph(t, 0)
	assert.Equal(t, []int{3, 3}, conv.IntsAttrOr("kernel_shape", nil))
	assert.Equal(t, []int{0, 0, 0, 0}, conv.IntsAttrOr("pads", []int{0, 0, 0, 0}))
	assert.Equal(t, 1, conv.IntAttrOr("group", 1))
	assert.Equal(t, "{kernel_shape=[3,3], strides=[1,1]}", conv.Attrs.String())
	assert.Panics(t, func() { conv.IntAttrOr("kernel_shape", 0) })

	attrs := conv.Attrs.Clone().Set("strides", IntsAttr(2, 2)).Set("quant_mode", StringAttr("OnlyShift"))
	assert.Equal(t, `{kernel_shape=[3,3], strides=[2,2], quant_mode="OnlyShift"}`, attrs.String())
	assert.Equal(t, []int{1, 1}, g.Node(conv.ID).IntsAttrOr("strides", nil), "Clone must not alias")

	clip := g.DefiningNode(g.Outputs()[0])
	assert.Equal(t, 0.5, clip.FloatAttrOr("const_val", 0))
}

func TestPrint(t *testing.T) {
	g, conv, _ := buildConvGraph(t, 0)
	golden := goldie.New(t)
	golden.Assert(t, "print_top", []byte(g.String()))

	attrs := conv.Attrs.Clone().Set("with_bias", BoolAttr(true))
	must.M1(g.Replace(conv.ID, KindTPUConv2D, []TensorType{g.Type(conv.Result(0))}, conv.Operands, attrs))
	golden.Assert(t, "print_replaced", []byte(g.String()))
}
