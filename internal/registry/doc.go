// Package registry resolves component messages to renderers.
//
// A component event names a widget ("kv_table", "product_card", ...) and
// carries its props. Presentation layers look the name up here; names with
// no renderer print a one-line placeholder instead of failing, so a backend
// that ships a new widget never breaks an older client.
//
//	reg := registry.Builtins(logger)
//	reg.Render(os.Stdout, msg)
package registry
