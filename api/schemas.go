// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://agentbridge.sprucehealth.com/schemas/"

// schemas holds the compiled request schemas
type schemas struct {
	outboundCall  *jsonschema.Schema
	callbackEvent *jsonschema.Schema
}

func loadSchemas() (*schemas, error) {
	outbound, err := compileSchema("outbound_call.json")
	if err != nil {
		return nil, err
	}
	event, err := compileSchema("callback_event.json")
	if err != nil {
		return nil, err
	}
	return &schemas{outboundCall: outbound, callbackEvent: event}, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaBaseURL+name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(schemaBaseURL + name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// validate decodes raw as generic JSON and checks it against schema. The
// decoded payload is returned for callers that need to inspect it.
func validate(schema *jsonschema.Schema, raw []byte) (any, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, schema.Validate(payload)
}
