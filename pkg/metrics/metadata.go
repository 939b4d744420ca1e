package metrics

// MetadataKind selects which facet of a metric's metadata a Metadata
// value carries.
type MetadataKind string

const (
	MetadataKindRate MetadataKind = "rate"
	MetadataKindDesc MetadataKind = "desc"
	MetadataKindUnit MetadataKind = "unit"
)

const (
	rateValueCounter = "counter"
	rateValueGauge   = "gauge"
)

// Metadata is a single (name-with-suffix, kind, tags, value) tuple.
// Metadata for a metric name is constant for the life of its owning
// Source and covers every suffix the kernel can emit.
type Metadata struct {
	NameWithSuffix string
	Kind           MetadataKind
	Tags           TagSet
	Value          string
}

// SuffixMeta describes one reading suffix a kernel can emit: its full
// name, unit, and description. Most kernels emit exactly one.
type SuffixMeta struct {
	NameWithSuffix string
	Unit           string
	Description    string
}

// buildMetadata expands a kernel's suffix metadata into the three
// Metadata records (rate, desc, unit) per suffix.
func buildMetadata(metricType MetricType, tags TagSet, suffixes []SuffixMeta) []Metadata {
	rate := rateValueGauge
	if metricType != MetricTypeGauge {
		rate = rateValueCounter
	}
	out := make([]Metadata, 0, len(suffixes)*3)
	for _, sm := range suffixes {
		out = append(out,
			Metadata{NameWithSuffix: sm.NameWithSuffix, Kind: MetadataKindRate, Tags: tags, Value: rate},
			Metadata{NameWithSuffix: sm.NameWithSuffix, Kind: MetadataKindDesc, Tags: tags, Value: sm.Description},
			Metadata{NameWithSuffix: sm.NameWithSuffix, Kind: MetadataKindUnit, Tags: tags, Value: sm.Unit},
		)
	}
	return out
}
