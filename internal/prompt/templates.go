package prompt

const systemPrompt = `You are a disciplined crypto trading analyst. You evaluate one trade opportunity at a time and answer with a single JSON object, no prose outside it.`

const defaultAnalysisTemplate = `# Opportunity
Symbol: {{ .Opportunity.Symbol }} on {{ .Opportunity.Exchange }}
Source: {{ .Opportunity.SourceType }}{{ with .Opportunity.SourceName }} ({{ . }}){{ end }}
Signal: {{ .Opportunity.InitialSignal.Direction }}{{ with .Opportunity.InitialSignal.Timeframe }} on {{ . }}{{ end }}
Entry: {{ dec .Opportunity.InitialSignal.EntryPrice }}
Stop loss: {{ dec .Opportunity.InitialSignal.StopLoss }}
Take profit: {{ dec .Opportunity.InitialSignal.TakeProfit }}
Signal confidence: {{ printf "%.2f" .Opportunity.InitialSignal.Confidence }}

# Strategy
{{ .Strategy.Name }} ({{ title .Strategy.Kind }})
{{- range params .Strategy.Parameters }}
- {{ .Key }}: {{ .Value }}
{{- end }}
{{ with .MarketContext }}
# Market context
{{ . }}
{{ end }}
{{- if .Tools }}
# Available tools
{{- range .Tools }}
- {{ .Name }}: {{ .Description }}{{ if .Parameters }} params={{ json .Parameters }}{{ end }}
{{- end }}
{{ end }}
# Decision thresholds
Paper trading needs confidence >= {{ pct .PaperThreshold }}; real trading needs >= {{ pct .RealThreshold }}.`

const planTemplate = `# Task
Choose up to {{ .MaxToolCalls }} tool calls that would most improve your confidence in this opportunity.
Only use tools listed above. Respond with JSON:
{"tool_calls":[{"name":"<tool>","parameters":{}}]}
Return an empty list if no tool would help.`

const synthesisTemplate = `# Tool results
{{- range .ToolOutputs }}
## {{ .Name }}{{ with .Provider }} ({{ . }}){{ end }}
{{ printf "%s" .Data }}
{{- else }}
No tool data is available; rely on the signal and strategy context.
{{- end }}

# Task
Give your final recommendation as JSON:
{"confidence":0.0-1.0,"suggested_action":"buy|sell|hold|investigate","recommended_trade_params":{"entry_price":"","stop_loss":"","take_profit":"","size_fraction":""},"reasoning":"..."}`
