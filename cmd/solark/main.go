// Command solark exercises the Sol-Ark cloud client from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/solark"
)

const (
	exitOK      = 0
	exitAPI     = 1
	exitMissing = 2
)

type secrets struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PlantID  string `json:"plant_id"`
	BaseURL  string `json:"base_url"`
	APIURL   string `json:"api_url"`
}

// loadSecrets reads the secrets file. A missing file is not an error and
// an unreadable one is reported and ignored.
func loadSecrets(path string, stderr io.Writer) secrets {
	var s secrets
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s
	}
	if err == nil {
		err = json.Unmarshal(b, &s)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read secrets file %s: %v\n", path, err)
		return secrets{}
	}
	return s
}

func printSection(w io.Writer, title string, payload any) error {
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", title, err)
	}
	_, err = fmt.Fprintf(w, "\n=== %s ===\n%s\n", title, b)
	return err
}

// sections that are read when selected, in output order
var sections = []string{"settings", "plants", "inverters", "gateways", "live", "flow", "combined", "parsed"}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "solark",
		Usage:           "query and configure a Sol-Ark plant through the cloud API",
		Writer:          stdout,
		ErrWriter:       stderr,
		HideHelpCommand: true,
		// errors are mapped to exit codes by run
		ExitErrHandler: func(*cli.Context, error) {},
		Action:         action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "secrets",
				Value: "solark_secrets.json",
				Usage: "Path to secrets JSON file",
			},
			&cli.StringFlag{
				Name:    "username",
				EnvVars: []string{"SOLARK_USERNAME"},
				Usage:   "Sol-Ark account username",
			},
			&cli.StringFlag{
				Name:    "password",
				EnvVars: []string{"SOLARK_PASSWORD"},
				Usage:   "Sol-Ark account password",
			},
			&cli.StringFlag{
				Name:    "plant-id",
				EnvVars: []string{"SOLARK_PLANT_ID"},
				Usage:   "Sol-Ark plant ID",
			},
			&cli.StringFlag{Name: "base-url", Usage: "Base URL for the Sol-Ark web app"},
			&cli.StringFlag{Name: "api-url", Usage: "Base URL for the Sol-Ark API"},

			&cli.BoolFlag{Name: "plants", Usage: "Fetch plant list"},
			&cli.BoolFlag{Name: "inverters", Usage: "Fetch inverter list"},
			&cli.BoolFlag{Name: "live", Usage: "Fetch inverter live data"},
			&cli.BoolFlag{Name: "flow", Usage: "Fetch plant flow data"},
			&cli.BoolFlag{Name: "combined", Usage: "Fetch combined plant data"},
			&cli.BoolFlag{Name: "parsed", Usage: "Parse combined plant data into sensor values"},
			&cli.BoolFlag{Name: "gateways", Usage: "Fetch gateways list"},
			&cli.BoolFlag{Name: "settings", Usage: "Fetch common settings for an inverter (the master when -inverter-sn is empty)"},

			&cli.BoolFlag{Name: "set-slot", Usage: "Update a system work mode slot for an inverter"},
			&cli.StringFlag{Name: "inverter-sn", Usage: "Inverter serial number for settings changes"},
			&cli.IntFlag{Name: "slot", Usage: "Slot number (1-6)"},
			&cli.StringFlag{Name: "slot-time", Usage: "Sell time for the slot (HH:MM)"},
			&cli.Float64Flag{Name: "slot-pac", Usage: "Sell power (PAC) for the slot"},
			&cli.Float64Flag{Name: "slot-volt", Usage: "Sell voltage for the slot"},
			&cli.Float64Flag{Name: "slot-cap", Usage: "Battery cap for the slot"},
			&cli.StringFlag{Name: "slot-mode", Usage: "Slot mode (sell or charge)"},
			&cli.IntFlag{Name: "sys-work-mode", Usage: "System work mode value (e.g., 1 for sell)"},
			&cli.BoolFlag{Name: "allow-non-master", Usage: "Allow setting changes on non-master inverters"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log requests at debug level"},
			&cli.BoolFlag{Name: "no-color", Usage: "Disable colored log output"},
		},
	}
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := newApp(stdout, stderr).RunContext(ctx, append([]string{"solark"}, args...))
	if err == nil {
		return exitOK
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		fmt.Fprintln(stderr, exitErr.Error())
		return exitErr.ExitCode()
	}
	// flag parsing errors are reported by the app with its usage
	return exitMissing
}

func action(cCtx *cli.Context) error {
	ctx := cCtx.Context
	stderr := cCtx.App.ErrWriter

	log.UseTextOutput(stderr, cCtx.Bool("no-color"))
	if cCtx.Bool("verbose") {
		log.SetDefaultLogLevel(slog.LevelDebug)
	}

	username := cCtx.String("username")
	password := cCtx.String("password")
	plantID := cCtx.String("plant-id")
	var sec secrets
	if username == "" || password == "" || plantID == "" {
		sec = loadSecrets(cCtx.String("secrets"), stderr)
	}
	cfg := solark.Config{
		Username: lo.CoalesceOrEmpty(username, sec.Username),
		Password: lo.CoalesceOrEmpty(password, sec.Password),
		PlantID:  lo.CoalesceOrEmpty(plantID, sec.PlantID),
		BaseURL:  lo.CoalesceOrEmpty(cCtx.String("base-url"), sec.BaseURL, solark.DefaultBaseURL),
		APIURL:   lo.CoalesceOrEmpty(cCtx.String("api-url"), sec.APIURL, solark.DefaultAPIURL),
	}

	setSlot := cCtx.Bool("set-slot")
	inverterSN := cCtx.String("inverter-sn")
	want := lo.SliceToMap(sections, func(name string) (string, bool) {
		return name, cCtx.Bool(name)
	})
	if !setSlot && !lo.Contains(lo.Values(want), true) {
		for name := range want {
			want[name] = true
		}
	}

	requiresPlant := want["flow"] || want["combined"] || want["parsed"] || (want["live"] && inverterSN == "")
	var missing []string
	if cfg.Username == "" {
		missing = append(missing, "username")
	}
	if cfg.Password == "" {
		missing = append(missing, "password")
	}
	if requiresPlant && cfg.PlantID == "" {
		missing = append(missing, "plant_id")
	}
	if len(missing) > 0 {
		return cli.Exit(fmt.Sprintf("Missing required values: %s. Provide CLI args or a secrets file.", strings.Join(missing, ", ")), exitMissing)
	}
	if setSlot && (inverterSN == "" || !cCtx.IsSet("slot")) {
		return cli.Exit("Missing -inverter-sn or -slot for -set-slot.", exitMissing)
	}

	var update solark.SlotUpdate
	if setSlot {
		update = solark.SlotUpdate{Slot: cCtx.Int("slot")}
		if cCtx.IsSet("slot-time") {
			update.SellTime = lo.ToPtr(cCtx.String("slot-time"))
		}
		if cCtx.IsSet("slot-pac") {
			update.SellPac = lo.ToPtr(cCtx.Float64("slot-pac"))
		}
		if cCtx.IsSet("slot-volt") {
			update.SellVolt = lo.ToPtr(cCtx.Float64("slot-volt"))
		}
		if cCtx.IsSet("slot-cap") {
			update.Cap = lo.ToPtr(cCtx.Float64("slot-cap"))
		}
		if cCtx.IsSet("sys-work-mode") {
			update.SysWorkMode = lo.ToPtr(cCtx.Int("sys-work-mode"))
		}
		if cCtx.IsSet("slot-mode") {
			mode, err := solark.ParseSlotMode(cCtx.String("slot-mode"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("Invalid -slot-mode: %v", err), exitMissing)
			}
			update.Mode = &mode
		}
		if err := update.Validate(); err != nil {
			return cli.Exit(fmt.Sprintf("Invalid slot: %v", err), exitMissing)
		}
	}

	client := solark.New(cfg)
	if err := client.Login(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("Login failed: %v", err), exitAPI)
	}

	if err := execute(ctx, client, cCtx.App.Writer, want, setSlot, update, inverterSN, !cCtx.Bool("allow-non-master")); err != nil {
		return cli.Exit(fmt.Sprintf("API error: %v", err), exitAPI)
	}
	return nil
}

func execute(ctx context.Context, client *solark.Client, w io.Writer, want map[string]bool, setSlot bool, update solark.SlotUpdate, sn string, requireMaster bool) error {
	if setSlot {
		res, err := client.SetSystemWorkModeSlot(ctx, sn, update, requireMaster)
		if err != nil {
			return err
		}
		if err := printSection(w, "Set Slot Result", res); err != nil {
			return err
		}
	}

	var live, flow, combined map[string]any
	for _, name := range sections {
		if !want[name] {
			continue
		}
		var (
			title   string
			payload any
			err     error
		)
		switch name {
		case "settings":
			title = "Common Settings"
			if sn != "" {
				payload, err = client.GetCommonSettings(ctx, sn)
			} else {
				var masterSN string
				var settings map[string]any
				masterSN, settings, err = client.GetMasterCommonSettings(ctx, false)
				payload = map[string]any{"sn": masterSN, "settings": settings}
			}
		case "plants":
			title = "Plant List"
			payload, err = client.GetPlants(ctx, solark.DefaultPlantListParams())
		case "inverters":
			title = "Inverter List"
			payload, err = client.GetInverters(ctx, solark.DefaultInverterListParams())
		case "gateways":
			title = "Gateway List"
			payload, err = client.GetGateways(ctx, solark.DefaultGatewayListParams())
		case "live":
			title = "Inverter Live Data"
			if sn != "" {
				live, err = client.GetInverterLiveDataBySN(ctx, sn)
			} else {
				live, err = client.GetInverterLiveData(ctx)
			}
			payload = live
		case "flow":
			title = "Flow Data"
			flow, err = client.GetFlowData(ctx)
			payload = flow
		case "combined":
			title = "Combined Plant Data"
			combined, err = client.GetPlantData(ctx, live, flow)
			payload = combined
		case "parsed":
			title = "Parsed Sensor Values"
			if combined == nil {
				combined, err = client.GetPlantData(ctx, live, flow)
			}
			if err == nil {
				payload = solark.ParsePlantData(combined)
			}
		}
		if err != nil {
			return err
		}
		if err := printSection(w, title, payload); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
