package xapi

import (
	"encoding/json"
	"fmt"
)

// ObjectType values accepted in the objectType field of actors and objects.
type ObjectType string

const (
	ObjectTypeAgent        ObjectType = "Agent"
	ObjectTypeGroup        ObjectType = "Group"
	ObjectTypeActivity     ObjectType = "Activity"
	ObjectTypeStatementRef ObjectType = "StatementRef"
	ObjectTypeSubStatement ObjectType = "SubStatement"
)

// Statement is a single xAPI statement as received from a producer.
type Statement struct {
	ID        string  `json:"id,omitempty"`
	Actor     Actor   `json:"actor"`
	Verb      Verb    `json:"verb"`
	Object    Object  `json:"object"`
	Result    *Result `json:"result,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Version   string  `json:"version,omitempty"`
}

// Account identifies an agent by an account on some system.
type Account struct {
	HomePage string `json:"homePage,omitempty"`
	Name     string `json:"name"`
}

// Agent is an individual actor.
type Agent struct {
	Name        string   `json:"name,omitempty"`
	Mbox        string   `json:"mbox,omitempty"`
	MboxSHA1Sum string   `json:"mbox_sha1sum,omitempty"`
	OpenID      string   `json:"openid,omitempty"`
	Account     *Account `json:"account,omitempty"`
}

// Group is an actor made of members; it may itself carry an account.
type Group struct {
	Name    string   `json:"name,omitempty"`
	Account *Account `json:"account,omitempty"`
	Member  []Agent  `json:"member,omitempty"`
}

// Actor is either an Agent or a Group. Exactly one of the pointers is set
// after decoding, matching Type.
type Actor struct {
	Type  ObjectType
	Agent *Agent
	Group *Group
}

// UnmarshalJSON resolves the actor variant from objectType. A missing
// objectType means Agent.
func (a *Actor) UnmarshalJSON(data []byte) error {
	var head struct {
		ObjectType ObjectType `json:"objectType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.ObjectType {
	case "", ObjectTypeAgent:
		var agent Agent
		if err := json.Unmarshal(data, &agent); err != nil {
			return err
		}
		*a = Actor{Type: ObjectTypeAgent, Agent: &agent}
	case ObjectTypeGroup:
		var group Group
		if err := json.Unmarshal(data, &group); err != nil {
			return err
		}
		*a = Actor{Type: ObjectTypeGroup, Group: &group}
	default:
		return fmt.Errorf("unsupported actor objectType %q", head.ObjectType)
	}
	return nil
}

// MarshalJSON writes the active variant back with its objectType.
func (a Actor) MarshalJSON() ([]byte, error) {
	switch {
	case a.Group != nil:
		return json.Marshal(struct {
			ObjectType ObjectType `json:"objectType"`
			Group
		}{ObjectTypeGroup, *a.Group})
	case a.Agent != nil:
		return json.Marshal(struct {
			ObjectType ObjectType `json:"objectType"`
			Agent
		}{ObjectTypeAgent, *a.Agent})
	default:
		return []byte("null"), nil
	}
}

// Verb identifies the action by IRI.
type Verb struct {
	ID      string            `json:"id"`
	Display map[string]string `json:"display,omitempty"`
}

// ActivityDefinition carries optional descriptive metadata of an activity.
type ActivityDefinition struct {
	Name        map[string]string `json:"name,omitempty"`
	Description map[string]string `json:"description,omitempty"`
	Type        string            `json:"type,omitempty"`
}

// Object is the target of a statement. Only activities and statement
// references carry an id that can be matched against local content.
type Object struct {
	Type       ObjectType
	ID         string
	Definition *ActivityDefinition
}

// UnmarshalJSON resolves the object variant. A missing objectType means
// Activity.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw struct {
		ObjectType ObjectType          `json:"objectType"`
		ID         string              `json:"id"`
		Definition *ActivityDefinition `json:"definition"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.ObjectType {
	case "", ObjectTypeActivity:
		*o = Object{Type: ObjectTypeActivity, ID: raw.ID, Definition: raw.Definition}
	case ObjectTypeStatementRef:
		*o = Object{Type: ObjectTypeStatementRef, ID: raw.ID}
	case ObjectTypeAgent, ObjectTypeGroup, ObjectTypeSubStatement:
		*o = Object{Type: raw.ObjectType}
	default:
		return fmt.Errorf("unsupported object objectType %q", raw.ObjectType)
	}
	return nil
}

// MarshalJSON writes the object back in wire form.
func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ObjectType ObjectType          `json:"objectType"`
		ID         string              `json:"id,omitempty"`
		Definition *ActivityDefinition `json:"definition,omitempty"`
	}{o.Type, o.ID, o.Definition})
}

// Score is the result score block.
type Score struct {
	Scaled *float64 `json:"scaled,omitempty"`
	Raw    *float64 `json:"raw,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// Result is the optional outcome attached to a statement.
type Result struct {
	Score      *Score `json:"score,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Completion *bool  `json:"completion,omitempty"`
	Duration   string `json:"duration,omitempty"`
}
