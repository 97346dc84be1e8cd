package main

import (
	"time"

	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/nodemanager"
	"github.com/liamcoop/timecontrol/overwrite"
)

// API Request and Response Models

// NodeSummary represents a node in list responses
type NodeSummary struct {
	ID       string    `json:"id" example:"living_room"`
	Name     string    `json:"name,omitempty" example:"Living room blind"`
	Rules    int       `json:"rules" example:"4"`
	LoadedAt time.Time `json:"loadedAt" example:"2024-01-15T10:30:00Z"`
}

// NodesListResponse represents the response for listing nodes
type NodesListResponse struct {
	Nodes []NodeSummary `json:"nodes"`
}

// RuleResponse represents a normalized rule in API responses
type RuleResponse struct {
	ID          int    `json:"id" example:"1"`
	Name        string `json:"name,omitempty" example:"morning"`
	Enabled     bool   `json:"enabled" example:"true"`
	Importance  int    `json:"importance,omitempty" example:"0"`
	Designation string `json:"designation" example:"main"`
	Description string `json:"description" example:"rule 1 \"morning\" FROM 07:00"`
}

// NodeResponse represents a node with its live state
type NodeResponse struct {
	ID        string              `json:"id" example:"living_room"`
	Name      string              `json:"name,omitempty"`
	Settings  controller.Settings `json:"settings"`
	Rules     []RuleResponse      `json:"rules"`
	Overwrite overwrite.State     `json:"overwrite"`
	Last      *controller.Result  `json:"last,omitempty"`
	LoadedAt  time.Time           `json:"loadedAt"`
}

// OverwriteRequest represents a manual override in an evaluate request. Expire is in
// milliseconds; omitted uses the node default, 0 or less never expires.
type OverwriteRequest struct {
	Value           any    `json:"value,omitempty" example:"42"`
	Importance      int    `json:"importance,omitempty" example:"1"`
	Expire          *int64 `json:"expire,omitempty" example:"60000"`
	Reset           bool   `json:"reset,omitempty"`
	ExactImportance bool   `json:"exactImportance,omitempty"`
}

// EvaluateRequest represents the request body for evaluating a node
type EvaluateRequest struct {
	Topic        string            `json:"topic,omitempty" example:"blind/living"`
	Payload      any               `json:"payload,omitempty"`
	Msg          map[string]any    `json:"msg,omitempty"`
	Timestamp    *time.Time        `json:"timestamp,omitempty" example:"2024-06-01T10:01:00+02:00"`
	Overwrite    *OverwriteRequest `json:"overwrite,omitempty"`
	EnableRules  []int             `json:"enableRules,omitempty"`
	DisableRules []int             `json:"disableRules,omitempty"`
}

// Event converts the request into a controller event.
func (req EvaluateRequest) Event(id string) controller.Event {
	ev := controller.Event{
		ID:           id,
		Topic:        req.Topic,
		Payload:      req.Payload,
		Msg:          req.Msg,
		Timestamp:    req.Timestamp,
		EnableRules:  req.EnableRules,
		DisableRules: req.DisableRules,
		Trigger:      controller.TriggerInput,
	}
	if o := req.Overwrite; o != nil {
		ev.Overwrite = &overwrite.Request{
			Value:           o.Value,
			Importance:      o.Importance,
			Reset:           o.Reset,
			ExactImportance: o.ExactImportance,
		}
		if o.Expire != nil {
			d := time.Duration(*o.Expire) * time.Millisecond
			ev.Overwrite.Expire = &d
		}
	}
	return ev
}

func toNodeResponse(n *nodemanager.Node) (NodeResponse, error) {
	rs, err := n.Controller.Rules()
	if err != nil {
		return NodeResponse{}, err
	}

	resp := NodeResponse{
		ID:        n.Config.ID,
		Name:      n.Config.Name,
		Settings:  n.Controller.Settings(),
		Rules:     make([]RuleResponse, 0, len(rs)),
		Overwrite: n.Controller.Overwrite(),
		Last:      n.Controller.Last(),
		LoadedAt:  n.LoadedAt,
	}
	for i := range rs {
		r := &rs[i]
		resp.Rules = append(resp.Rules, RuleResponse{
			ID:          r.ID,
			Name:        r.Name,
			Enabled:     r.Enabled,
			Importance:  r.Importance,
			Designation: string(r.Designation),
			Description: r.String(),
		})
	}
	return resp, nil
}
