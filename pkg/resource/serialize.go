package resource

import (
	"context"
	"fmt"

	"github.com/vardalab/varda-engine/pkg/models"
)

// Serialize projects an entity into its response representation: the
// descriptor's own fields plus the canonical address, and, for every
// relation, either just the related address derived from the foreign-key
// scalar or, when the relation was named in embed, the full serialization
// of the related entity. Embedding is exactly one level deep: embedded
// relations never embed their own relations in turn.
func Serialize(ctx context.Context, d *Descriptor, e models.Entity, embed []string) (map[string]any, error) {
	out := map[string]any{"uri": d.URI(e)}
	if d.Fields != nil {
		for name, value := range d.Fields(e) {
			out[name] = value
		}
	}

	embedded := make(map[string]bool, len(embed))
	for _, name := range embed {
		embedded[name] = true
	}

	for _, rel := range d.Relations {
		key, ok := rel.Key(e)
		if !ok {
			out[rel.Name] = nil
			continue
		}
		if !embedded[rel.Name] {
			out[rel.Name] = map[string]any{
				"uri": "/" + rel.Target.Collection + "/" + fmt.Sprint(key),
			}
			continue
		}
		related, err := rel.Load(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("failed to embed %s: %w", rel.Name, err)
		}
		nested, err := Serialize(ctx, rel.Target, related, nil)
		if err != nil {
			return nil, err
		}
		out[rel.Name] = nested
	}

	if d.Task != nil {
		if tasked, ok := e.(models.Tasked); ok {
			out["task"] = d.Task.taskState(ctx, tasked)
		}
	}
	return out, nil
}
