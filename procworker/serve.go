package procworker

import (
	"encoding/json"
	"fmt"
	"io"
)

// Serve runs the worker side of the protocol: initializers first, then
// one request per line from in, one response per line to out, until in
// closes. main calls this when started with the worker flag.
func Serve(in io.Reader, out io.Writer) error {
	if err := runInitializers(); err != nil {
		return err
	}

	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("procworker: request decode failed: %w", err)
		}

		resp := execute(req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("procworker: response encode failed: %w", err)
		}
	}
}

// execute runs one request with panic containment; a worker must answer
// every request it reads.
func execute(req request) (resp response) {
	resp.ID = req.ID

	defer func() {
		if r := recover(); r != nil {
			resp.Result = nil
			resp.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	fn, ok := lookup(req.Name)
	if !ok {
		resp.Error = fmt.Sprintf("unknown function %q", req.Name)
		return resp
	}

	result, err := fn(req.Args)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("result not serializable: %v", err)
		return resp
	}
	resp.Result = encoded
	return resp
}
