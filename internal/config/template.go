package config

// DefaultYAML is the starter configuration written by `chatrelay config init`.
const DefaultYAML = `# chatrelay configuration.
# ${VAR} and ${VAR:-default} expressions are expanded from the environment.

llm:
  base_url: "https://api.openai.com/v1"
  api_key: "${OPENAI_API_KEY}"
  model: "gpt-4o"
  # fallback_model: "gpt-4o-mini"
  temperature: 0.7
  max_tokens: 2048
  timeout: "2m"
  retry_attempts: 3
  retry_delay: "1s"

history:
  backend: "sqlite"          # memory | sqlite
  path: "${CHATRELAY_DB:-chatrelay.db}"
  max_history_messages: 100
  max_context_messages: 40
  default_system_prompt: "You are a helpful assistant."
  save_retry_attempts: 3
  save_retry_delay: "500ms"
  cache_ttl: "5m"
  cache_max_size: 1000

delivery:
  max_message_length: 4096
  chunk_delay: "500ms"

gateway:
  bind: "127.0.0.1:8080"
  auth:
    bearer_token: "${CHATRELAY_API_TOKEN:-}"
  rate:
    requests_per_min: 120

maintenance:
  purge_schedule: "0 3 * * *"
  purge_after_days: 30
  sweep_schedule: "*/10 * * * *"

log:
  level: "info"              # debug | info | warn | error
  format: "text"             # text | json

shutdown_grace: "30s"
`
