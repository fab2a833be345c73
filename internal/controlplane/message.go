// Package controlplane decodes lifecycle messages published by the control
// plane and delivers them to the reactor, abstracting over the transport
// (this module ships a Redis Pub/Sub adapter).
package controlplane

import (
	"encoding/json"
	"strings"
)

// Kind discriminates the lifecycle message variants. Values match spec's
// wire casing exactly (Deploy/Undeploy/Promote), so a message decoded
// straight off the bus needs no translation.
type Kind string

const (
	KindDeploy   Kind = "Deploy"
	KindUndeploy Kind = "Undeploy"
	KindPromote  Kind = "Promote"
	KindUnknown  Kind = "Unknown"
)

// Message is one decoded control-plane payload. JSON tags are camelCase to
// match the wire format exactly.
type Message struct {
	Kind Kind `json:"kind"`

	DeploymentID string `json:"deploymentId"`
	FunctionID   string `json:"functionId"`
	FunctionName string `json:"functionName"`

	Assets  []string `json:"assets"`
	Domains []string `json:"domains"`

	EnvironmentVariables map[string]string `json:"env"`

	Memory       int64 `json:"memory"`
	TickTimeout  int64 `json:"tickTimeout"`
	TotalTimeout int64 `json:"totalTimeout"`

	IsProduction bool `json:"isProduction"`

	Cron       string `json:"cron"`
	CronRegion string `json:"cronRegion"`

	// PreviousDeploymentID is populated only on Promote messages.
	PreviousDeploymentID string `json:"previousDeploymentId"`
}

// Decode parses a raw control-plane payload into a Message. An unrecognized
// or missing kind decodes successfully with Kind set to KindUnknown rather
// than erroring, per the reactor's "ignore, don't crash" contract for
// forward compatibility with newer control-plane versions.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}

	switch {
	case strings.EqualFold(string(msg.Kind), string(KindDeploy)):
		msg.Kind = KindDeploy
	case strings.EqualFold(string(msg.Kind), string(KindUndeploy)):
		msg.Kind = KindUndeploy
	case strings.EqualFold(string(msg.Kind), string(KindPromote)):
		msg.Kind = KindPromote
	default:
		msg.Kind = KindUnknown
	}

	return msg, nil
}
