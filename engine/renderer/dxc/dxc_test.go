package dxc

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vertexSource = `
float4 main(float3 position : POSITION) : SV_Position {
	return float4(position, 1.0);
}
`

func requireDXC(t *testing.T) *Compiler {
	t.Helper()
	c := New("")
	if !c.Available() {
		t.Skip("dxc not found in PATH")
	}
	return c
}

func TestArgs(t *testing.T) {
	c := New("")
	vs := c.args("in.hlsl", "out.spv", "main", "vs_6_0")
	assert.Equal(t, []string{"-spirv", "-T", "vs_6_0", "-E", "main", "-fvk-invert-y", "-O3", "-Fo", "out.spv", "in.hlsl"}, vs)

	ps := c.args("in.hlsl", "out.spv", "main", "ps_6_0")
	assert.NotContains(t, ps, "-fvk-invert-y")
	assert.Equal(t, "in.hlsl", ps[len(ps)-1])
}

func TestMissingBinary(t *testing.T) {
	c := New("/nonexistent/dxc")
	assert.False(t, c.Available())
	_, err := c.Compile([]byte(vertexSource), "shader.hlsl", "main", "vs_6_0")
	require.Error(t, err)
	var compileErr *gpu.CompileError
	assert.False(t, errors.As(err, &compileErr))
}

func TestCompileProducesSPIRV(t *testing.T) {
	c := requireDXC(t)
	spirv, err := c.Compile([]byte(vertexSource), "shaderVS.hlsl", "main", "vs_6_0")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(spirv), 4)
	assert.Equal(t, uint32(0x07230203), binary.LittleEndian.Uint32(spirv))
}

func TestCompileErrorCarriesDiagnostic(t *testing.T) {
	c := requireDXC(t)
	_, err := c.Compile([]byte("float4 main( : SV_Target { return 0; }"), "broken.hlsl", "main", "ps_6_0")
	var compileErr *gpu.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "broken.hlsl", compileErr.Name)
	assert.Contains(t, compileErr.Diagnostic, "broken.hlsl")
	assert.Contains(t, compileErr.Diagnostic, "error")
}
