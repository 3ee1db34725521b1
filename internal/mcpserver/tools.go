package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Aegis MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetWalletInsights = mcp.NewTool("get_wallet_insights",
	mcp.WithDescription(
		"Get the behavioral profile of a wallet on the monitored network. "+
			"Returns transaction count, total volume, average outgoing amount, "+
			"peak risk score, network role (whale/hub/mixer-like), and top counterparts. "+
			"Use this to investigate a wallet that appeared in a risk signal."),
	mcp.WithString("wallet_id",
		mcp.Required(),
		mcp.Description("The wallet identifier to look up")),
)

var ToolGetNetworkGraph = mcp.NewTool("get_network_graph",
	mcp.WithDescription(
		"Get the wallet interaction graph: the highest-volume wallets and the "+
			"transaction edges between them. Useful for spotting clusters and "+
			"wash-trading loops."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of wallets to include (default 20)")),
)

var ToolGetRecentSignals = mcp.NewTool("get_recent_signals",
	mcp.WithDescription(
		"List the most recent risk signals (HIGH and CRITICAL assessments), "+
			"newest first. Each signal names the wallet, score, attack category, "+
			"and recommended action."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of signals to return (default 20)")),
)

var ToolGetSensitivityStatus = mcp.NewTool("get_sensitivity_status",
	mcp.WithDescription(
		"Get the adaptive sensitivity controller state: current alert level "+
			"(5 = calm, 1 = maximum alert), the effective signal threshold, and "+
			"recent level transitions."),
)

var ToolGetForecast = mcp.NewTool("get_forecast",
	mcp.WithDescription(
		"Get the risk trend forecast for a wallet or for the whole network. "+
			"Returns trend direction (UP/DOWN/STABLE), a predicted risk score, "+
			"and a confidence estimate."),
	mcp.WithString("entity_id",
		mcp.Description("Wallet id, or 'network' for the aggregate series (default 'network')")),
	mcp.WithNumber("horizon",
		mcp.Description("How many steps ahead to predict (default 1)")),
)

var ToolGetPipelineStatus = mcp.NewTool("get_pipeline_status",
	mcp.WithDescription(
		"Get overall monitoring status: tracked wallet count, stored signals, "+
			"sensitivity level, and whether the external judgment provider is active."),
)

var ToolSubmitTransaction = mcp.NewTool("submit_transaction",
	mcp.WithDescription(
		"Feed one transaction through the risk pipeline and return its assessment. "+
			"Use this to test how a hypothetical transfer would be scored."),
	mcp.WithString("source_id",
		mcp.Required(),
		mcp.Description("Sending wallet identifier")),
	mcp.WithString("dest_id",
		mcp.Required(),
		mcp.Description("Receiving wallet identifier")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Transfer amount in tokens")),
	mcp.WithString("type",
		mcp.Description("Transaction type label (e.g. 'transfer', 'mixer', 'whale_dump')")),
)
