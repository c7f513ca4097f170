package core

import (
	"errors"
	"fmt"
)

var (
	ErrNoAdapter    = errors.New("no hardware adapter supports the required feature level")
	ErrFenceTimeout = errors.New("timed out waiting for fence")
	ErrUnknown      = errors.New("unknown")
	// ErrInvalidDraw rejects a frame before anything is recorded.
	ErrInvalidDraw  = errors.New("invalid draw")
)

// InitializationError is returned when the adapter, device, queue, swapchain or one of
// the common descriptor heaps cannot be created. It aborts startup.
type InitializationError struct {
	Op  string
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed: %s: %v", e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ResourceCreationError is returned when a buffer, texture, heap or view cannot be allocated
// while preparing a model.
type ResourceCreationError struct {
	Op  string
	Err error
}

func (e *ResourceCreationError) Error() string {
	return fmt.Sprintf("resource creation failed: %s: %v", e.Op, e.Err)
}

func (e *ResourceCreationError) Unwrap() error { return e.Err }

// ShaderCompilationError carries the diagnostic text produced by the shader compiler.
type ShaderCompilationError struct {
	Stage      string
	Profile    string
	Diagnostic string
	Err        error
}

func (e *ShaderCompilationError) Error() string {
	return fmt.Sprintf("shader compilation failed (%s, %s): %s", e.Stage, e.Profile, e.Diagnostic)
}

func (e *ShaderCompilationError) Unwrap() error { return e.Err }

// DeviceLostError is returned by any failure while recording, submitting or presenting a
// frame, and by fence waits that time out. The render loop is expected to stop.
type DeviceLostError struct {
	Op  string
	Err error
}

func (e *DeviceLostError) Error() string {
	return fmt.Sprintf("device lost: %s: %v", e.Op, e.Err)
}

func (e *DeviceLostError) Unwrap() error { return e.Err }

func NewInitializationError(op string, err error) error {
	e := &InitializationError{Op: op, Err: err}
	LogError("%s", e)
	return e
}

func NewResourceCreationError(op string, err error) error {
	e := &ResourceCreationError{Op: op, Err: err}
	LogError("%s", e)
	return e
}

func NewDeviceLostError(op string, err error) error {
	e := &DeviceLostError{Op: op, Err: err}
	LogError("%s", e)
	return e
}
