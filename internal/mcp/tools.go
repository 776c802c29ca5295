package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all farm tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerStart(s, client)
	registerStop(s, client)
	registerConfig(s, client)
	registerSetConfig(s, client)
	registerWrap(s, client)
	registerUnwrap(s, client)
	registerBalances(s, client)
	registerHistory(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_status",
		gomcp.WithDescription("Get current farm status: cycle state, current wallet and operation, lifetime operation counts, run configuration."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Farm unreachable: %v\n\nIs the farm running? Try: stakefarm serve", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_health",
		gomcp.WithDescription("Quick health check for the farm. Checks Sepolia RPC connectivity."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Farm unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerStart(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_start",
		gomcp.WithDescription("Start the staking cycle loop across all wallets. This is a MUTATING operation that submits real transactions."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		_, err := client.Post("/v1/start", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Start failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Cycle Started"),
			"The cycle loop is running. Watch progress with farm_status.",
		)), nil
	})
}

func registerStop(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_stop",
		gomcp.WithDescription("Request a stop of the running cycle. In-flight operations finish first. This is a MUTATING operation."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		_, err := client.Post("/v1/stop", nil)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stop failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Stop Requested"),
			"In-flight operations are draining. The farm returns to idle once they finish.",
		)), nil
	})
}

func registerConfig(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_config",
		gomcp.WithDescription("Get the current run configuration: repetition counts, amount ranges, loop interval."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/config")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Config failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatConfig(raw)), nil
	})
}

func registerSetConfig(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_set_config",
		gomcp.WithDescription("Update the run configuration. Omitted fields keep their current values. Changes apply from the next cycle. This is a MUTATING operation."),
		gomcp.WithNumber("stake_repetitions",
			gomcp.Description("Stake operations per wallet per cycle"),
		),
		gomcp.WithNumber("unstake_repetitions",
			gomcp.Description("Unstake operations per wallet per cycle"),
		),
		gomcp.WithNumber("claim_repetitions",
			gomcp.Description("Claim operations per wallet per cycle"),
		),
		gomcp.WithNumber("weth_stake_min",
			gomcp.Description("Minimum WETH amount per stake in ETH units"),
		),
		gomcp.WithNumber("weth_stake_max",
			gomcp.Description("Maximum WETH amount per stake in ETH units"),
		),
		gomcp.WithNumber("exeth_unstake_min",
			gomcp.Description("Minimum exETH amount per unstake in ETH units"),
		),
		gomcp.WithNumber("exeth_unstake_max",
			gomcp.Description("Maximum exETH amount per unstake in ETH units"),
		),
		gomcp.WithNumber("loop_hours",
			gomcp.Description("Hours between cycle starts (minimum 1)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/config")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Reading current config failed: %v", err)), nil
		}
		var cfg map[string]any
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Parsing current config failed: %v", err)), nil
		}

		if v := req.GetInt("stake_repetitions", -1); v >= 0 {
			cfg["stakeRepetitions"] = v
		}
		if v := req.GetInt("unstake_repetitions", -1); v >= 0 {
			cfg["unstakeRepetitions"] = v
		}
		if v := req.GetInt("claim_repetitions", -1); v >= 0 {
			cfg["claimRepetitions"] = v
		}
		if v := req.GetInt("loop_hours", 0); v > 0 {
			cfg["loopHours"] = v
		}
		setRangeField(cfg, "wethStakeRange",
			req.GetFloat("weth_stake_min", 0),
			req.GetFloat("weth_stake_max", 0))
		setRangeField(cfg, "exethUnstakeRange",
			req.GetFloat("exeth_unstake_min", 0),
			req.GetFloat("exeth_unstake_max", 0))

		updated, err := client.Put("/v1/config", cfg)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Config update failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatConfig(updated)), nil
	})
}

// setRangeField merges new min/max values into a nested amount range. Zero
// values leave the current bound untouched.
func setRangeField(cfg map[string]any, key string, minVal, maxVal float64) {
	if minVal <= 0 && maxVal <= 0 {
		return
	}
	r, ok := cfg[key].(map[string]any)
	if !ok {
		r = map[string]any{}
	}
	if minVal > 0 {
		r["min"] = minVal
	}
	if maxVal > 0 {
		r["max"] = maxVal
	}
	cfg[key] = r
}

func registerWrap(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_wrap",
		gomcp.WithDescription("Wrap native ETH into WETH for one wallet. This is a MUTATING operation that submits a real transaction."),
		gomcp.WithNumber("wallet_index",
			gomcp.Required(),
			gomcp.Description("Zero-based wallet index"),
		),
		gomcp.WithNumber("amount",
			gomcp.Required(),
			gomcp.Description("Amount to wrap in ETH units"),
		),
	)
	s.AddTool(tool, oneOffHandler(client, "/v1/wrap", "Wrap"))
}

func registerUnwrap(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_unwrap",
		gomcp.WithDescription("Unwrap WETH back into native ETH for one wallet. This is a MUTATING operation that submits a real transaction."),
		gomcp.WithNumber("wallet_index",
			gomcp.Required(),
			gomcp.Description("Zero-based wallet index"),
		),
		gomcp.WithNumber("amount",
			gomcp.Required(),
			gomcp.Description("Amount to unwrap in ETH units"),
		),
	)
	s.AddTool(tool, oneOffHandler(client, "/v1/unwrap", "Unwrap"))
}

// oneOffHandler builds the shared handler for wrap and unwrap requests.
func oneOffHandler(client *Client, path, label string) func(context.Context, gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		walletIndex := req.GetInt("wallet_index", -1)
		if walletIndex < 0 {
			return gomcp.NewToolResultError("wallet_index is required"), nil
		}
		amount := req.GetFloat("amount", 0)
		if amount <= 0 {
			return gomcp.NewToolResultError("amount must be positive"), nil
		}

		payload := map[string]any{
			"walletIndex": walletIndex,
			"amount":      amount,
		}
		_, err := client.Post(path, payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("%s failed: %v", label, err)), nil
		}

		return gomcp.NewToolResultText(joinLines(
			section(label+" Submitted"),
			kv("Wallet", walletIndex),
			kv("Amount", fmt.Sprintf("%.4f ETH", amount)),
			"The operation completes in the background. Watch the event stream or farm_status.",
		)), nil
	}
}

func registerBalances(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_balances",
		gomcp.WithDescription("Get the latest native ETH, WETH and exETH balance per wallet."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/balances")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Balances failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatBalances(raw)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("farm_history",
		gomcp.WithDescription("List completed cycles with operation counts (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/history?limit=%d&offset=%d", limit, offset)

		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	lines := joinLines(
		section("Farm Status"),
		kv("State", getStr(m, "state")),
		kv("Network", getStr(m, "network")),
		kv("Chain ID", formatNumber(getNum(m, "chainId"))),
		kv("Wallets", formatNumber(getNum(m, "walletCount"))),
		kv("In Flight", formatNumber(getNum(m, "inFlight"))),
		kv("Attempted", formatNumber(getNum(m, "attempted"))),
		kv("Confirmed", formatNumber(getNum(m, "confirmed"))),
		kv("Failed", formatNumber(getNum(m, "failed"))),
	)

	if v := getStr(m, "cycleStartedAt"); v != "" {
		lines += "\n" + kv("Cycle Started", formatTime(v))
	}
	if v := getStr(m, "nextRunAt"); v != "" {
		lines += "\n" + kv("Next Run", formatTime(v))
	}
	if w := getNum(m, "currentWallet"); w >= 0 {
		lines += "\n" + kv("Current Wallet", formatNumber(w))
		if k := getStr(m, "currentKind"); k != "" {
			lines += "\n" + kv("Current Op", k)
		}
	}

	if cfg, ok := m["config"].(map[string]any); ok {
		lines += "\n\n" + formatConfigMap(cfg)
	}

	if results, ok := m["lastResults"].([]any); ok && len(results) > 0 {
		lines += "\n\n" + section("Last Result Per Wallet")
		for _, r := range results {
			res, ok := r.(map[string]any)
			if !ok {
				continue
			}
			line := fmt.Sprintf("  [%d] %-8s %-10s",
				int64(getNum(res, "walletIndex")),
				getStr(res, "kind"),
				getStr(res, "status"))
			if hash := getStr(res, "txHash"); hash != "" {
				line += " " + hash
			}
			if errMsg := getStr(res, "error"); errMsg != "" {
				line += " - " + errMsg
			}
			lines += "\n" + line
		}
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Farm Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				name := getStr(check, "name")
				status := getStr(check, "status")
				latencyMs := getNum(check, "latency_ms")
				errMsg := getStr(check, "error")
				line := fmt.Sprintf("  %-15s %s (%dms)", name, status, int64(latencyMs))
				if errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatConfig(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing config: %v", err)
	}
	return formatConfigMap(m)
}

func formatConfigMap(m map[string]any) string {
	wethMin, wethMax := getRange(m, "wethStakeRange")
	exethMin, exethMax := getRange(m, "exethUnstakeRange")

	return joinLines(
		section("Run Configuration"),
		kv("Stake Reps", formatNumber(getNum(m, "stakeRepetitions"))),
		kv("Unstake Reps", formatNumber(getNum(m, "unstakeRepetitions"))),
		kv("Claim Reps", formatNumber(getNum(m, "claimRepetitions"))),
		kv("WETH Stake Range", formatEthRange(wethMin, wethMax)),
		kv("exETH Unstake Range", formatEthRange(exethMin, exethMax)),
		kv("Loop Hours", formatNumber(getNum(m, "loopHours"))),
	)
}

func formatBalances(raw json.RawMessage) string {
	var readings []map[string]any
	if err := json.Unmarshal(raw, &readings); err != nil {
		return fmt.Sprintf("Error parsing balances: %v", err)
	}

	lines := section("Wallet Balances")
	if len(readings) == 0 {
		return lines + "\nNo balance readings yet."
	}

	for _, r := range readings {
		lines += fmt.Sprintf("\n  [%d] %s\n      native %s  weth %s  exeth %s",
			int64(getNum(r, "walletIndex")),
			getStr(r, "address"),
			formatWei(getStr(r, "native")),
			formatWei(getStr(r, "weth")),
			formatWei(getStr(r, "exeth")))
	}

	if at := getStr(readings[0], "takenAt"); at != "" {
		lines += "\n\n" + kv("As Of", formatTime(at))
	}

	return lines
}

func formatHistory(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	total := getNum(m, "total")
	lines := joinLines(
		section("Cycle History"),
		kv("Total Cycles", formatNumber(total)),
		"",
	)

	cycles, ok := m["cycles"].([]any)
	if !ok || len(cycles) == 0 {
		lines += "No cycles recorded."
		return lines
	}

	for _, c := range cycles {
		cycle, ok := c.(map[string]any)
		if !ok {
			continue
		}

		lines += fmt.Sprintf("### Cycle %d\n", int64(getNum(cycle, "id")))
		lines += joinLines(
			kv("Started", formatTime(getStr(cycle, "startedAt"))),
			kv("Completed", formatTime(getStr(cycle, "completedAt"))),
			kv("Attempted", formatNumber(getNum(cycle, "attempted"))),
			kv("Confirmed", formatNumber(getNum(cycle, "confirmed"))),
			kv("Failed", formatNumber(getNum(cycle, "failed"))),
		)
		if reason := getStr(cycle, "stopReason"); reason != "" {
			lines += "\n" + kv("Stop Reason", reason)
		}
		lines += "\n\n"
	}

	return lines
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}

func getRange(m map[string]any, key string) (float64, float64) {
	r, ok := m[key].(map[string]any)
	if !ok {
		return 0, 0
	}
	return getNum(r, "min"), getNum(r, "max")
}
