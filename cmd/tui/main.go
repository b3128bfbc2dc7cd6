package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"optionbot-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

type action struct {
	key   string
	label string
	run   func(*session)
}

type session struct {
	reader *bufio.Reader
	cfg    *config.Config
}

var actions = []action{
	{"1", "Show configuration summary", func(s *session) { printSummary(s.cfg) }},
	{"2", "Edit exit curves", func(s *session) { editRisk(s.reader, s.cfg) }},
	{"3", "Edit entry gate", func(s *session) { editEligibility(s.reader, s.cfg) }},
	{"4", "Toggle strategies", func(s *session) { toggleStrategies(s.reader, s.cfg) }},
	{"5", "Save config (a running engine picks it up)", func(s *session) {
		if err := saveConfig(s.cfg); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			return
		}
		fmt.Println("config saved")
	}},
	{"6", "Launch engine", func(s *session) { launchEngine(s.reader) }},
	{"7", "Reload config from disk", func(s *session) {
		reloaded, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			return
		}
		s.cfg = reloaded
		fmt.Println("config reloaded")
	}},
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", locateConfig(), err)
		os.Exit(1)
	}
	s := &session{reader: bufio.NewReader(os.Stdin), cfg: cfg}

	for {
		fmt.Println("\n=== OptionBot Control ===")
		for _, a := range actions {
			fmt.Printf("%s) %s\n", a.key, a.label)
		}
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		line, err := s.reader.ReadString('\n')
		choice := strings.TrimSpace(line)
		if choice == "0" || (err != nil && choice == "") {
			return
		}
		found := false
		for _, a := range actions {
			if a.key == choice {
				a.run(s)
				found = true
				break
			}
		}
		if !found {
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Feed: %s (%d instruments) | scan every %dms | tz %s\n",
		cfg.Exchange.Provider, len(cfg.Exchange.Instruments), cfg.Scanner.IntervalMs, cfg.App.Timezone)
	for _, ix := range cfg.Indices {
		fmt.Printf("Index %-10s %s:%s lot %d\n", ix.Key, ix.Segment, ix.SecurityID, ix.LotSize)
	}
	for _, s := range cfg.Strategies {
		state := "on"
		if !s.IsEnabled() {
			state = "off"
		}
		fmt.Printf("Strategy %-22s %-3s x%d\n", s.Name, state, s.Multiplier)
	}
	d := cfg.Risk.Drawdown
	fmt.Printf("Hard stop %.1f%% | take profit %.1f%%\n", cfg.Risk.StopLossPct, cfg.Risk.TakeProfitPct)
	fmt.Printf("Trailing drawdown %.1f%% -> %.1f%% over profit %.1f%%..%.1f%% (k=%.2f)\n",
		d.DDStartPct, d.DDEndPct, d.ProfitMin, d.ProfitMax, d.ExponentialK)
	e := cfg.Eligibility
	fmt.Printf("Session %s-%s | %d trades/index/day | %d same-side | cooldown %ds | expiry <= %dd\n",
		e.SessionStart, e.SessionEnd, e.MaxDailyTradesPerIdx, e.MaxSameSidePositions, e.CooldownSeconds, e.MaxExpiryDays)
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Exit Curves ---")
	cfg.Risk.StopLossPct = promptFloat(reader, "Hard stop loss (%)", cfg.Risk.StopLossPct)
	cfg.Risk.TakeProfitPct = promptFloat(reader, "Take profit (%)", cfg.Risk.TakeProfitPct)
	d := &cfg.Risk.Drawdown
	d.ProfitMin = promptFloat(reader, "Trail arms at profit (%)", d.ProfitMin)
	d.ProfitMax = promptFloat(reader, "Trail fully tight at profit (%)", d.ProfitMax)
	d.DDStartPct = promptFloat(reader, "Allowed drawdown at arm (%)", d.DDStartPct)
	d.DDEndPct = promptFloat(reader, "Allowed drawdown when tight (%)", d.DDEndPct)
	d.ExponentialK = promptFloat(reader, "Decay steepness k", d.ExponentialK)
}

func editEligibility(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Entry Gate ---")
	e := &cfg.Eligibility
	e.SessionStart = promptClock(reader, "Session start (HH:MM)", e.SessionStart)
	e.SessionEnd = promptClock(reader, "Session end (HH:MM)", e.SessionEnd)
	e.MaxDailyTradesPerIdx = int(promptFloat(reader, "Max trades per index per day", float64(e.MaxDailyTradesPerIdx)))
	e.MaxSameSidePositions = int(promptFloat(reader, "Max same-side positions", float64(e.MaxSameSidePositions)))
	e.CooldownSeconds = int(promptFloat(reader, "Symbol cooldown (s)", float64(e.CooldownSeconds)))
	e.MaxExpiryDays = int(promptFloat(reader, "Max days to expiry", float64(e.MaxExpiryDays)))
}

func toggleStrategies(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Toggle Strategies ---")
	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		on := s.IsEnabled()
		fmt.Printf("%s enabled [%t] (y/n, blank keeps): ", s.Name, on)
		line, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			on = true
		case "n", "no":
			on = false
		}
		s.Enabled = &on
	}
}

func launchEngine(reader *bufio.Reader) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := exec.CommandContext(ctx, "go", "run", "./cmd/engine")
	engine.Stdout, engine.Stderr = os.Stdout, os.Stderr
	engine.Env = append(os.Environ(), "OPTIONBOT_CONFIG="+locateConfig())
	if err := engine.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "engine did not start: %v\n", err)
		return
	}
	exited := make(chan struct{})
	go func() {
		_ = engine.Wait()
		close(exited)
	}()

	fmt.Print("Engine running. Press ENTER to stop it and return to the menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		fmt.Fprintln(os.Stderr, "engine still shutting down")
	}
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptClock(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	if _, err := config.ParseClock(line); err != nil {
		fmt.Printf("%v, keeping %s\n", err, current)
		return current
	}
	return line
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

// saveConfig refuses to write a config the engine would reject on reload.
func saveConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if p := os.Getenv("OPTIONBOT_CONFIG"); p != "" {
		return filepath.Clean(p)
	}
	return filepath.Clean(defaultConfigPath)
}
