package gpu

// ShaderCompiler turns shader source into bytecode for a target profile such as vs_6_0.
type ShaderCompiler interface {
	Compile(source []byte, name string, entryPoint string, profile string) ([]byte, error)
}

// CompileError is returned by compilers when the source is rejected. Diagnostic holds
// the compiler output verbatim.
type CompileError struct {
	Name       string
	Diagnostic string
}

func (e *CompileError) Error() string {
	return e.Name + ": " + e.Diagnostic
}
