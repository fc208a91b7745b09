package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/gattc/internal/script"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script.lua|builtin> [key=value...]",
		Short: "Run a Lua script against the BLE central",
		Long: `Runs a Lua script with a global ble table:

  ble.scan([seconds])            list advertisers
  ble.connect(address[, type])   connect, returns a device
  ble.hexdump(data)              format bytes
  ble.sleep(ms)

Devices provide read_handle, write_handle, discover, subscribe,
notifications, sensor, read(field), is_busy, state,
wait_for_state_change and disconnect. Arguments after the script path are
exposed as arg[key].

The built-in scripts "sweep" and "sensor" can be run by name when no file
of that name exists.

Example:
  gattc run sweep addr=C4:7C:8D:6A:3A:27 from=0x01 to=0x41 skip=10,11
  gattc run ./poll.lua addr=C4:7C:8D:6A:3A:27`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScript,
	}
}

func parseScriptArgs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid script argument %q: expected key=value", a)
		}
		out[k] = v
	}
	return out, nil
}

func runScript(cmd *cobra.Command, args []string) error {
	scriptArgs, err := parseScriptArgs(args[1:])
	if err != nil {
		return err
	}
	content, err := readScript(args[0])
	if err != nil {
		return err
	}

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	addrType, _ := sess.cfg.PeerAddrType()
	engine := script.New(sess.central, script.Options{
		Logger:           sess.logger,
		AddrType:         addrType,
		ScanDuration:     sess.cfg.ScanDuration,
		ConnectTimeout:   sess.cfg.ConnectTimeout,
		OperationTimeout: sess.cfg.OperationTimeout,
	})
	defer engine.Close()

	return engine.RunWithOutput(ctx, content, args[0], scriptArgs, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
