package script

import (
	"context"
	"fmt"
	"io"

	"github.com/srg/gattc/internal/groutine"
)

// RunWithOutput runs script while copying its output to stdout and stderr.
// Output is drained concurrently so a chatty script cannot overflow the
// ring. Nil writers discard their stream.
func (e *Engine) RunWithOutput(ctx context.Context, script, name string, args map[string]string, stdout, stderr io.Writer) error {
	stop := make(chan struct{})
	var g groutine.Group
	g.Go(ctx, "script-output-drain", func(context.Context) {
		out := e.Output()
		for {
			select {
			case rec, ok := <-out:
				if !ok {
					return
				}
				e.write(rec, stdout, stderr)
			case <-stop:
				// Flush whatever the script produced before it returned.
				for {
					select {
					case rec, ok := <-out:
						if !ok {
							return
						}
						e.write(rec, stdout, stderr)
					default:
						return
					}
				}
			}
		}
	})

	err := e.Run(ctx, script, name, args)
	close(stop)
	g.Wait()
	return err
}

func (e *Engine) write(rec OutputRecord, stdout, stderr io.Writer) {
	var err error
	switch {
	case rec.Source == "stderr" && stderr != nil:
		_, err = fmt.Fprintln(stderr, rec.Content)
	case rec.Source == "stdout" && stdout != nil:
		_, err = fmt.Fprint(stdout, rec.Content)
	}
	if err != nil {
		e.logger.WithError(err).Debug("Failed to write script output")
	}
}
