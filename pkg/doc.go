// Package pkg groups the building blocks of toolmesh.
//
// Most programs only need the root toolmesh package, which wires these
// together. The sub-packages are usable on their own:
//
//	v, _ := config.NewViper("toolmesh.yaml")
//	_, resolver, err := config.FromViper(v)
//	d, err := resolver.ResolveStrict("search")
//
//	monitor := health.NewMonitor(health.Options{Resolver: resolver})
//	rec := monitor.CheckHealth(ctx, "search")
//
// Errors returned by every package are *errors.ToolError values carrying a
// kind and a numeric code; use errors.Normalize to convert anything else.
package pkg
