package ir

import "sort"

// Finalize freezes d into an IR with every collection in a stable order.
func Finalize(d *Draft) *IR {
	out := &IR{
		Meta:         d.Meta,
		Schemas:      make([]Schema, 0, len(d.Schemas)),
		Resources:    make([]Resource, 0, len(d.Resources)),
		Capabilities: make([]Capability, 0, len(d.Capabilities)),
		Blocks:       make([]Block, 0, len(d.Blocks)),
		Annotations:  make(map[string]map[string]any, len(d.Annotations)),
	}
	for _, key := range sortedKeys(d.Schemas) {
		out.Schemas = append(out.Schemas, d.Schemas[key])
	}
	for _, key := range sortedKeys(d.Resources) {
		res := d.Resources[key]
		res.Routes = append([]Route(nil), res.Routes...)
		res.Capabilities = append([]string{}, res.Capabilities...)
		out.Resources = append(out.Resources, res)
	}
	for _, key := range sortedKeys(d.Capabilities) {
		c := d.Capabilities[key]
		c.Resources = append([]string{}, c.Resources...)
		sort.Strings(c.Resources)
		out.Capabilities = append(out.Capabilities, c)
	}
	for _, key := range sortedKeys(d.Blocks) {
		out.Blocks = append(out.Blocks, d.Blocks[key])
	}
	for name, annotations := range d.Annotations {
		out.Annotations[name] = annotations
	}
	return out
}
