package engine

import "encoding/json"

// Control actions invoked on the worker over the request/reply channel.
const (
	ActionAddStrategy          = "add_strategy"
	ActionUpdateStrategy       = "update_strategy"
	ActionRemoveStrategy       = "remove_strategy"
	ActionAddExecutor          = "add_executor"
	ActionUpdateExecutor       = "update_executor"
	ActionRemoveExecutor       = "remove_executor"
	ActionAddDataSource        = "add_data_source"
	ActionUpdateDataSource     = "update_data_source"
	ActionRemoveDataSource     = "remove_data_source"
	ActionAddPositionPolicy    = "add_position_policy"
	ActionUpdatePositionPolicy = "update_position_policy"
	ActionRemovePositionPolicy = "remove_position_policy"
	ActionGetPositionState     = "get_position_state"
	ActionGetStrategyState     = "get_strategy_state"
	ActionUpdateStrategyState  = "update_strategy_state"
	ActionClearStrategyState   = "clear_strategy_state"
	ActionClosePosition        = "close_position"
	ActionResetPositionState   = "reset_position_state"
	ActionPing                 = "ping"

	// Advisory cache refreshes, pushed best-effort after position updates
	// so subsequent state pulls are warm.
	ActionStorageStrategy = "storage_strategy"
	ActionStoragePosition = "storage_position"
)

// EventType enumerates the push events the worker emits on the channel.
type EventType string

const (
	EventOrderCreated     EventType = "order_created"
	EventOrderUpdated     EventType = "order_updated"
	EventExecOrderCreated EventType = "exec_order_created"
	EventExecOrderUpdated EventType = "exec_order_updated"
	EventPositionUpdate   EventType = "position_update"
	EventPositionInit     EventType = "position_init"
	EventStrategySignal   EventType = "strategy_signal"
	EventTransaction      EventType = "transaction"
	EventRiskTriggered    EventType = "risk_triggered"

	// State blobs the worker pushes on its own (in addition to pull).
	EventStrategyData EventType = "strategy_data"
	EventPositionData EventType = "position_data"
)

// EventTypes lists every push event a dispatcher must cover.
var EventTypes = []EventType{
	EventOrderCreated,
	EventOrderUpdated,
	EventExecOrderCreated,
	EventExecOrderUpdated,
	EventPositionUpdate,
	EventPositionInit,
	EventStrategySignal,
	EventTransaction,
	EventRiskTriggered,
	EventStrategyData,
	EventPositionData,
}

// Frame is the wire unit of the control channel. A request carries
// ID+Action+Params; its reply echoes the ID with Data or Error; a push
// event carries Event+Data and no ID.
type Frame struct {
	ID     string          `json:"id,omitempty"`
	Action string          `json:"action,omitempty"`
	Event  EventType       `json:"event,omitempty"`
	Params map[string]any  `json:"params,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EventHandler consumes the raw payload of one push event.
type EventHandler func(data json.RawMessage)
