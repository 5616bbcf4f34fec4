// vasumctl is a thin client for vasumd's control socket (spec §6.1),
// one subcommand per host-API method.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/samsung/vasum/internal/hostapi"
	"github.com/samsung/vasum/internal/ipc/service"
	"github.com/samsung/vasum/internal/logger"
	"github.com/samsung/vasum/internal/version"
)

const callTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 1
	}
	if args[0] == "--version" {
		fmt.Println(version.Version())
		return 0
	}

	sock := os.Getenv("VASUM_SOCKET")
	if sock == "" {
		sock = "/run/vasum/host.sock"
	}
	log := logger.New("vasumctl")
	client, err := service.Dial(sock, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasumctl: dial %s: %v\n", sock, err)
		return 1
	}
	defer client.Close()

	cmd, rest := args[0], args[1:]
	var methodID uint32
	var params interface{}

	switch cmd {
	case "create":
		if len(rest) < 1 {
			return argErr("create <name> [template]")
		}
		tpl := ""
		if len(rest) > 1 {
			tpl = rest[1]
		}
		methodID = hostapi.MethodCreateZone
		params = struct {
			Name     string `json:"name"`
			Template string `json:"template"`
		}{rest[0], tpl}

	case "destroy":
		if len(rest) < 1 {
			return argErr("destroy <name> [--force]")
		}
		methodID = hostapi.MethodDestroyZone
		params = struct {
			Name  string `json:"name"`
			Force bool   `json:"force"`
		}{rest[0], hasFlag(rest, "--force")}

	case "start":
		if len(rest) < 1 {
			return argErr("start <name>")
		}
		methodID = hostapi.MethodStartZone
		params = nameParam(rest[0])

	case "shutdown":
		if len(rest) < 1 {
			return argErr("shutdown <name> [--force]")
		}
		methodID = hostapi.MethodShutdownZone
		params = struct {
			Name  string `json:"name"`
			Force bool   `json:"force"`
		}{rest[0], hasFlag(rest, "--force")}

	case "lock":
		if len(rest) < 1 {
			return argErr("lock <name>")
		}
		methodID = hostapi.MethodLockZone
		params = nameParam(rest[0])

	case "unlock":
		if len(rest) < 1 {
			return argErr("unlock <name>")
		}
		methodID = hostapi.MethodUnlockZone
		params = nameParam(rest[0])

	case "foreground":
		if len(rest) == 0 {
			methodID = hostapi.MethodGetForeground
			params = struct{}{}
		} else {
			methodID = hostapi.MethodSetForeground
			params = nameParam(rest[0])
		}

	case "list":
		methodID = hostapi.MethodListZones
		params = struct{}{}

	case "info":
		if len(rest) < 1 {
			return argErr("info <name>")
		}
		methodID = hostapi.MethodGetZoneInfo
		params = nameParam(rest[0])

	default:
		usage()
		return 1
	}

	payload, err := json.Marshal(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasumctl: encode params: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, _, err := client.CallSync(ctx, client.Peer(), methodID, payload, nil, callTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vasumctl: %v\n", err)
		return 1
	}
	if len(result) > 0 {
		var pretty interface{}
		if json.Unmarshal(result, &pretty) == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
		} else {
			fmt.Println(string(result))
		}
	}
	return 0
}

type namedParams struct {
	Name string `json:"name"`
}

func nameParam(name string) namedParams { return namedParams{Name: name} }

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func argErr(usage string) int {
	fmt.Fprintf(os.Stderr, "vasumctl: usage: %s\n", usage)
	return 1
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vasumctl <command> [args]

commands:
  create <name> [template]
  destroy <name> [--force]
  start <name>
  shutdown <name> [--force]
  lock <name>
  unlock <name>
  foreground [name]
  list
  info <name>`)
}
