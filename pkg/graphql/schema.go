// Package graphql exposes the monitor's health records and work status as a
// read-only GraphQL schema.
package graphql

import (
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-monitor/pkg/monitor"
	"github.com/graphql-go/graphql"
)

// StatusSource is the part of the monitor the schema reads from
type StatusSource interface {
	GetServiceStatus(names []string) map[string][]monitor.InstanceHealth
	WorkStatus() monitor.WorkStatus
}

var instanceType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Instance",
	Fields: graphql.Fields{
		"uuid":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"online":       &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"timeoutCount": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		// Raw JSON of the last successful probe
		"status": &graphql.Field{Type: graphql.String},
	},
})

var serviceStatusType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ServiceStatus",
	Fields: graphql.Fields{
		"name": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		// Null when the monitor holds no records for the service
		"instances": &graphql.Field{Type: graphql.NewList(graphql.NewNonNull(instanceType))},
	},
})

var nodeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Node",
	Fields: graphql.Fields{
		"uuid":           &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"uptime":         &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"totalMsgIn":     &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"totalMsgInTime": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"subscriptions":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"pendingCalls":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
	},
})

// GenerateSchema builds the query schema over src
func GenerateSchema(src StatusSource) (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return "ok", nil
				},
			},
			"node": &graphql.Field{
				Type:    graphql.NewNonNull(nodeType),
				Resolve: nodeResolver(src),
			},
			// serviceStatus(names: [String!]): every tracked service when
			// names is omitted
			"serviceStatus": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(serviceStatusType))),
				Args: graphql.FieldConfigArgument{
					"names": &graphql.ArgumentConfig{
						Type: graphql.NewList(graphql.NewNonNull(graphql.String)),
					},
				},
				Resolve: serviceStatusResolver(src),
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create schema: %w", err)
	}

	return schema, nil
}

func nodeResolver(src StatusSource) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		ws := src.WorkStatus()
		return map[string]any{
			"uuid":           ws.UUID,
			"uptime":         int(ws.UptimeSeconds),
			"totalMsgIn":     int(ws.TotalMsgIn),
			"totalMsgInTime": int(ws.TotalMsgInTime),
			"subscriptions":  ws.Subscriptions,
			"pendingCalls":   ws.PendingCalls,
		}, nil
	}
}

func serviceStatusResolver(src StatusSource) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		var names []string
		if raw, ok := p.Args["names"].([]any); ok {
			names = make([]string, 0, len(raw))
			for _, v := range raw {
				name, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("service name must be a string, got %T", v)
				}
				names = append(names, name)
			}
		}

		snapshot := src.GetServiceStatus(names)

		order := names
		if order == nil {
			order = make([]string, 0, len(snapshot))
			for name := range snapshot {
				order = append(order, name)
			}
			slices.Sort(order)
		}

		out := make([]map[string]any, 0, len(order))
		seen := make(map[string]bool, len(order))
		for _, name := range order {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, map[string]any{
				"name":      name,
				"instances": instancesOf(snapshot[name]),
			})
		}
		return out, nil
	}
}

// instancesOf returns an untyped nil for a service without records; a typed
// nil slice would resolve as an empty list.
func instancesOf(records []monitor.InstanceHealth) any {
	if records == nil {
		return nil
	}
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		var status any
		if len(rec.Status) > 0 {
			status = string(rec.Status)
		}
		out[i] = map[string]any{
			"uuid":         rec.UUID,
			"online":       rec.Online == "true",
			"timeoutCount": rec.TimeoutCount,
			"status":       status,
		}
	}
	return out
}
