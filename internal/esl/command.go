package esl

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Command is a validated api command. Instances are only produced by the
// constructors below, which reject malformed parameters up front instead
// of letting them reach the wire.
type Command struct {
	text string
}

// Build returns the wire form of the command.
func (c Command) Build() string { return c.text }

var errEmptyArg = errors.New("argument cannot be empty")

func token(name string, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s: %w", name, errEmptyArg)
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return "", fmt.Errorf("%s: value %q contains whitespace", name, value)
	}
	return value, nil
}

// Originate builds the outbound setup command. The call leg is parked so
// the controller keeps command of it after answer.
func Originate(gateway string, destination string, vars map[string]string) (Command, error) {
	gw, err := token("gateway", gateway)
	if err != nil {
		return Command{}, err
	}
	dest, err := token("destination", destination)
	if err != nil {
		return Command{}, err
	}

	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		k, err := token("variable name", key)
		if err != nil {
			return Command{}, err
		}
		value := vars[key]
		if strings.ContainsAny(k+value, "{},") {
			return Command{}, fmt.Errorf("variable %q: braces and commas are not allowed", key)
		}
		v, err := token("variable "+key, value)
		if err != nil {
			return Command{}, err
		}
		pairs = append(pairs, k+"="+v)
	}

	var sb strings.Builder
	sb.WriteString("originate ")
	if len(pairs) > 0 {
		sb.WriteString("{" + strings.Join(pairs, ",") + "}")
	}
	sb.WriteString("sofia/gateway/" + gw + "/" + dest + " &park()")
	return Command{text: sb.String()}, nil
}

// UUIDRecordStart begins recording a call leg to path, bounded by a
// maximum duration and a trailing-silence auto-stop.
func UUIDRecordStart(callID string, path string, maxDuration time.Duration, silenceThreshold int, silenceDuration time.Duration) (Command, error) {
	id, err := token("call id", callID)
	if err != nil {
		return Command{}, err
	}
	p, err := token("path", path)
	if err != nil {
		return Command{}, err
	}
	if maxDuration <= 0 {
		return Command{}, errors.New("max duration must be positive")
	}
	if silenceThreshold < 0 {
		return Command{}, errors.New("silence threshold cannot be negative")
	}
	if silenceDuration <= 0 {
		return Command{}, errors.New("silence duration must be positive")
	}
	return Command{text: fmt.Sprintf("uuid_record %s start %s %d %d %d",
		id, p, maxDuration.Milliseconds(), silenceThreshold, silenceDuration.Milliseconds())}, nil
}

// UUIDRecordCall records a whole call leg to path with no duration bound
// and no silence auto-stop. Used for the full-call artifact.
func UUIDRecordCall(callID string, path string) (Command, error) {
	id, err := token("call id", callID)
	if err != nil {
		return Command{}, err
	}
	p, err := token("path", path)
	if err != nil {
		return Command{}, err
	}
	return Command{text: fmt.Sprintf("uuid_record %s start %s", id, p)}, nil
}

// UUIDRecordStop stops an in-flight recording. Safe to issue after the
// recording already stopped on its own.
func UUIDRecordStop(callID string, path string) (Command, error) {
	id, err := token("call id", callID)
	if err != nil {
		return Command{}, err
	}
	p, err := token("path", path)
	if err != nil {
		return Command{}, err
	}
	return Command{text: fmt.Sprintf("uuid_record %s stop %s", id, p)}, nil
}

// UUIDBroadcast plays an audio file into the caller-facing leg.
func UUIDBroadcast(callID string, path string) (Command, error) {
	id, err := token("call id", callID)
	if err != nil {
		return Command{}, err
	}
	p, err := token("path", path)
	if err != nil {
		return Command{}, err
	}
	return Command{text: fmt.Sprintf("uuid_broadcast %s %s aleg", id, p)}, nil
}

// SendMsgExecute builds the message block that runs a dialplan
// application on an attached call leg. The argument may contain spaces
// but never line breaks, which would smuggle extra headers.
func SendMsgExecute(callID string, app string, arg string) (Command, error) {
	id, err := token("call id", callID)
	if err != nil {
		return Command{}, err
	}
	name, err := token("application", app)
	if err != nil {
		return Command{}, err
	}
	if strings.ContainsAny(arg, "\r\n") {
		return Command{}, fmt.Errorf("application argument %q contains line breaks", arg)
	}

	var sb strings.Builder
	sb.WriteString("sendmsg " + id + "\n")
	sb.WriteString("call-command: execute\n")
	sb.WriteString("execute-app-name: " + name)
	if arg != "" {
		sb.WriteString("\nexecute-app-arg: " + arg)
	}
	return Command{text: sb.String()}, nil
}

// UUIDKill hangs up a call leg.
func UUIDKill(callID string) (Command, error) {
	id, err := token("call id", callID)
	if err != nil {
		return Command{}, err
	}
	return Command{text: "uuid_kill " + id}, nil
}

// UUIDExists asks whether a call leg is still alive.
func UUIDExists(callID string) (Command, error) {
	id, err := token("call id", callID)
	if err != nil {
		return Command{}, err
	}
	return Command{text: "uuid_exists " + id}, nil
}
