package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/kalambet/quicksettings/internal/config"
	"github.com/kalambet/quicksettings/internal/settings"
	"github.com/kalambet/quicksettings/internal/tray"
)

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write device settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSettingsGet(cmd.Context(), c, cmd.OutOrStdout(), args[0])
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a setting; the value is parsed as JSON, otherwise stored as text",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := runSettingsSet(cmd.Context(), c, args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSettingsList(cmd.Context(), c, cmd.OutOrStdout())
	},
}

var importOverwrite bool

var settingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import settings from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		written, err := runSettingsImport(cmd.Context(), c, args[0], importOverwrite)
		if err != nil {
			return err
		}
		printSuccess("Imported %d settings", len(written))
		return nil
	},
}

var historyLimit int

var settingsHistoryCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "Show recent values of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSettingsHistory(cmd.Context(), c, cmd.OutOrStdout(), args[0], historyLimit)
	},
}

var settingsWatchCmd = &cobra.Command{
	Use:   "watch <key>",
	Short: "Print a setting and every change to it until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runSettingsWatch(ctx, c, cmd.OutOrStdout(), args[0])
	},
}

func init() {
	settingsImportCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "replace values that are already set")
	settingsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries to show")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsImportCmd)
	settingsCmd.AddCommand(settingsHistoryCmd)
	settingsCmd.AddCommand(settingsWatchCmd)
}

type settingValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type historyEntry struct {
	Value     any       `json:"value"`
	ChangedAt time.Time `json:"changed_at"`
}

func settingPath(key string) string {
	return "/settings/" + url.PathEscape(key)
}

// parseValue reads a CLI argument as JSON, falling back to the raw text.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func formatValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func runSettingsGet(ctx context.Context, c *apiClient, w io.Writer, key string) error {
	resp, err := c.get(ctx, settingPath(key))
	if err != nil {
		return err
	}
	var sv settingValue
	if err := decodeJSON(resp, &sv); err != nil {
		return err
	}
	fmt.Fprintln(w, formatValue(sv.Value))
	return nil
}

func runSettingsSet(ctx context.Context, c *apiClient, key, raw string) error {
	// RawMessage keeps a JSON null from being dropped as an empty body.
	b, err := json.Marshal(parseValue(raw))
	if err != nil {
		return err
	}
	resp, err := c.put(ctx, settingPath(key), json.RawMessage(b))
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func runSettingsList(ctx context.Context, c *apiClient, w io.Writer) error {
	resp, err := c.get(ctx, "/settings")
	if err != nil {
		return err
	}
	var all map[string]any
	if err := decodeJSON(resp, &all); err != nil {
		return err
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k), formatValue(all[k]))
	}
	return nil
}

func runSettingsImport(ctx context.Context, c *apiClient, path string, overwrite bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	values, err := settings.LoadDefaults(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	p := "/settings"
	if overwrite {
		p += "?overwrite=true"
	}
	resp, err := c.post(ctx, p, values)
	if err != nil {
		return nil, err
	}
	var res struct {
		Written []string `json:"written"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return nil, err
	}
	return res.Written, nil
}

func runSettingsHistory(ctx context.Context, c *apiClient, w io.Writer, key string, limit int) error {
	resp, err := c.get(ctx, fmt.Sprintf("%s/history?limit=%d", settingPath(key), limit))
	if err != nil {
		return err
	}
	var entries []historyEntry
	if err := decodeJSON(resp, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		printWarning("no history for %s", key)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "  %s  %s\n", e.ChangedAt.Local().Format(time.DateTime), formatValue(e.Value))
	}
	return nil
}

// runSettingsWatch prints one line per frame until ctx ends or the daemon
// closes the stream.
func runSettingsWatch(ctx context.Context, c *apiClient, w io.Writer, key string) error {
	conn, err := c.stream(ctx, settingPath(key)+"/stream")
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var sv settingValue
		if err := conn.ReadJSON(&sv); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		fmt.Fprintf(w, "%s %s = %s\n", time.Now().Format(time.TimeOnly), sv.Key, formatValue(sv.Value))
	}
}

// --- tray ---

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "Inspect and drive the quick-settings tray",
}

var trayShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rendered tray",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runTrayShow(cmd.Context(), c, cmd.OutOrStdout())
	},
}

var trayPressCmd = &cobra.Command{
	Use:   "press <id>",
	Short: "Press a button by ID (quick-settings-nfc) or item name (nfc)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := runTrayPress(cmd.Context(), c, args[0]); err != nil {
			return err
		}
		printSuccess("Pressed %s", args[0])
		return nil
	},
}

var trayToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Expand or collapse the tray",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		snap, err := runTrayToggle(cmd.Context(), c)
		if err != nil {
			return err
		}
		if snap.Expanded {
			printSuccess("Tray expanded")
		} else {
			printSuccess("Tray collapsed")
		}
		return nil
	},
}

func init() {
	trayCmd.AddCommand(trayShowCmd)
	trayCmd.AddCommand(trayPressCmd)
	trayCmd.AddCommand(trayToggleCmd)
}

func runTrayShow(ctx context.Context, c *apiClient, w io.Writer) error {
	resp, err := c.get(ctx, "/tray")
	if err != nil {
		return err
	}
	var snap tray.Snapshot
	if err := decodeJSON(resp, &snap); err != nil {
		return err
	}

	state := "collapsed"
	if snap.Expanded {
		state = "expanded"
	}
	fmt.Fprintf(w, "%s (%d rows, %s)\n", colorize(colorBold, "Quick settings"), snap.Rows, state)
	for _, b := range snap.Buttons {
		fmt.Fprintf(w, "  %-28s %-20s %s\n", b.ID, b.Icon, onOff(b.Enabled))
	}
	if snap.Brightness.Visible {
		fmt.Fprintf(w, "  %-28s %.2f\n", "brightness", snap.Brightness.Level)
	}
	return nil
}

func runTrayPress(ctx context.Context, c *apiClient, id string) error {
	resp, err := c.post(ctx, "/tray/buttons/"+url.PathEscape(id)+"/click", nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func runTrayToggle(ctx context.Context, c *apiClient) (tray.Snapshot, error) {
	var snap tray.Snapshot
	resp, err := c.post(ctx, "/tray/toggle", nil)
	if err != nil {
		return snap, err
	}
	err = decodeJSON(resp, &snap)
	return snap, err
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change local qsettings configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if k.FromEnv {
				line += colorize(colorYellow, " (from "+k.EnvVar+")")
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return errors.Join(err, fmt.Errorf("valid keys: %s", strings.Join(config.ValidKeys(), ", ")))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token [token]",
	Short: "Store the API bearer token in the platform secret store",
	Long: `Store the API bearer token in the platform secret store.

Without an argument the token is read from the first line of stdin, which
keeps it out of shell history. QSETTINGS_API_TOKEN still takes precedence.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := tokenArg(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		if err := config.SetToken(token); err != nil {
			return err
		}
		printSuccess("API token stored; restart qsettings serve to apply it")
		return nil
	},
}

func tokenArg(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}
