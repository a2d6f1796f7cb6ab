package observability

import "go.opentelemetry.io/otel/attribute"

// Semantic convention attributes for the sync pipeline.
var (
	AttrOrganizationID = attribute.Key("skein.organization.id")
	AttrSyncID         = attribute.Key("skein.sync.id")
	AttrJobID          = attribute.Key("skein.job.id")
	AttrSourceKind     = attribute.Key("skein.source.kind")
	AttrEntityType     = attribute.Key("skein.entity.definition_id")
	AttrActionKind     = attribute.Key("skein.action.kind")
	AttrHandler        = attribute.Key("skein.handler.name")
	AttrEventType      = attribute.Key("skein.event.type")
)
