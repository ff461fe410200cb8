package plugins

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
)

// callTimeout bounds a single plugin function call, including promise
// resolution.
const callTimeout = 30 * time.Second

// PluginError wraps a failure inside a plugin call with enough context to
// identify the offending plugin and function.
type PluginError struct {
	PluginID  string
	Function  string
	Message   string
	Cause     error
	IsPanic   bool
	IsTimeout bool
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %s", e.PluginID, e.Function, e.Message)
}

func (e *PluginError) Unwrap() error {
	return e.Cause
}

// Runtime manages a goja VM for one plugin.
type Runtime struct {
	vm        *goja.Runtime
	manifest  *Manifest
	pluginDir string
	userAgent string
}

// NewRuntime loads and executes a plugin script, verifying that it exports
// getFeed.
func NewRuntime(manifest *Manifest, pluginDir, userAgent string) (*Runtime, error) {
	if err := CheckAPIVersion(manifest.APIVersion); err != nil {
		return nil, err
	}

	vm := goja.New()
	r := &Runtime{
		vm:        vm,
		manifest:  manifest,
		pluginDir: pluginDir,
		userAgent: userAgent,
	}
	r.injectHostAPI()

	scriptPath := filepath.Join(pluginDir, manifest.EntryPoint)
	scriptData, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin script: %w", err)
	}

	// CommonJS-like exports object so plugin scripts can use the familiar
	// exports.getFeed = ... shape.
	exports := vm.NewObject()
	vm.Set("exports", exports)

	moduleScript := fmt.Sprintf("(function(exports) {\n%s\n})(exports);", string(scriptData))
	if _, err := vm.RunString(moduleScript); err != nil {
		return nil, fmt.Errorf("failed to execute plugin script: %w", err)
	}

	exportsObj := vm.Get("exports").ToObject(vm)
	fn := exportsObj.Get("getFeed")
	if fn == nil || goja.IsUndefined(fn) {
		return nil, fmt.Errorf("plugin %q missing required export: getFeed", manifest.ID)
	}

	return r, nil
}

// Manifest returns the plugin's manifest.
func (r *Runtime) Manifest() *Manifest {
	return r.manifest
}

// injectHostAPI provides the small host surface plugins need: an HTTP GET
// helper and a logger. Everything else (login flows, pagination, scraping)
// is plugin script code.
func (r *Runtime) injectHostAPI() {
	host := r.vm.NewObject()

	host.Set("get", func(call goja.FunctionCall) goja.Value {
		rawURL := call.Argument(0).String()
		req, err := http.NewRequest(http.MethodGet, rawURL, nil)
		if err != nil {
			panic(r.vm.ToValue(err.Error()))
		}
		req.Header.Set("User-Agent", r.userAgent)
		if headers, ok := call.Argument(1).Export().(map[string]interface{}); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprint(v))
			}
		}
		client := &http.Client{Timeout: callTimeout}
		resp, err := client.Do(req)
		if err != nil {
			panic(r.vm.ToValue(err.Error()))
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			panic(r.vm.ToValue(err.Error()))
		}
		if resp.StatusCode >= 400 {
			panic(r.vm.ToValue(fmt.Sprintf("server returned %s", resp.Status)))
		}
		return r.vm.ToValue(string(body))
	})

	host.Set("log", func(call goja.FunctionCall) goja.Value {
		log.Printf("[plugin:%s] %s", r.manifest.ID, call.Argument(0).String())
		return goja.Undefined()
	})

	r.vm.Set("host", host)
}

// Call invokes an exported plugin function with panic recovery, a timeout
// and promise unwrapping. Plugin VMs are single-threaded: callers must not
// invoke Call concurrently on one runtime.
func (r *Runtime) Call(functionName string, args ...interface{}) (goja.Value, error) {
	exportsObj := r.vm.Get("exports").ToObject(r.vm)
	fn := exportsObj.Get(functionName)
	if fn == nil || goja.IsUndefined(fn) {
		return nil, &PluginError{PluginID: r.manifest.ID, Function: functionName, Message: "not found"}
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, &PluginError{PluginID: r.manifest.ID, Function: functionName, Message: "not callable"}
	}

	gojaArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		gojaArgs[i] = r.vm.ToValue(arg)
	}

	done := make(chan goja.Value, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if panicVal := recover(); panicVal != nil {
				errChan <- &PluginError{
					PluginID: r.manifest.ID,
					Function: functionName,
					Message:  fmt.Sprintf("panic: %v", panicVal),
					IsPanic:  true,
				}
			}
		}()

		val, err := callable(goja.Undefined(), gojaArgs...)
		if err != nil {
			errChan <- &PluginError{
				PluginID: r.manifest.ID,
				Function: functionName,
				Message:  err.Error(),
				Cause:    err,
			}
			return
		}

		if resolved, handled, err := r.awaitPromise(val); handled {
			if err != nil {
				errChan <- &PluginError{
					PluginID: r.manifest.ID,
					Function: functionName,
					Message:  err.Error(),
					Cause:    err,
				}
				return
			}
			done <- resolved
			return
		}

		done <- val
	}()

	select {
	case val := <-done:
		return val, nil
	case err := <-errChan:
		return nil, err
	case <-time.After(callTimeout):
		return nil, &PluginError{
			PluginID:  r.manifest.ID,
			Function:  functionName,
			Message:   fmt.Sprintf("timeout after %s", callTimeout),
			IsTimeout: true,
		}
	}
}

// awaitPromise resolves a thenable return value. handled is false when the
// value is not promise-like.
func (r *Runtime) awaitPromise(val goja.Value) (resolved goja.Value, handled bool, err error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, false, nil
	}
	obj := val.ToObject(r.vm)
	if obj == nil {
		return nil, false, nil
	}
	then := obj.Get("then")
	if then == nil || goja.IsUndefined(then) {
		return nil, false, nil
	}
	thenFn, ok := goja.AssertFunction(then)
	if !ok {
		return nil, false, nil
	}

	resultChan := make(chan goja.Value, 1)
	errorChan := make(chan error, 1)

	resolveHandler := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		select {
		case resultChan <- call.Argument(0):
		default:
		}
		return goja.Undefined()
	})
	rejectHandler := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		msg := call.Argument(0).String()
		if msg == "" {
			msg = "unknown error"
		}
		select {
		case errorChan <- fmt.Errorf("promise rejected: %s", msg):
		default:
		}
		return goja.Undefined()
	})

	if _, err := thenFn(obj, resolveHandler, rejectHandler); err != nil {
		return nil, true, fmt.Errorf("failed to handle promise: %w", err)
	}

	select {
	case result := <-resultChan:
		return result, true, nil
	case err := <-errorChan:
		return nil, true, err
	case <-time.After(callTimeout):
		return nil, true, fmt.Errorf("promise timeout")
	}
}
