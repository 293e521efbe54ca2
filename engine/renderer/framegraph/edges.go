package framegraph

// Edge is one producer/consumer dependency on a shared resource. Intra-frame
// edges are resolved right after the producer; cross-frame edges order a
// pass against the previous use of the same slot's resource and are
// resolved right before the consumer.
type Edge struct {
	From       PassID
	To         PassID
	Resource   Resource
	Src        Use
	Dst        Use
	CrossFrame bool
}

// Edges is listed in execution order of the consumers.
var Edges = []Edge{
	// G-buffer channels
	{From: PassGBuffer, To: PassShadow, Resource: ResPosition, Src: colorWrite, Dst: tracedRead},
	{From: PassGBuffer, To: PassAO, Resource: ResPosition, Src: colorWrite, Dst: tracedRead},
	{From: PassGBuffer, To: PassAO, Resource: ResNormal, Src: colorWrite, Dst: tracedRead},
	{From: PassGBuffer, To: PassReflection, Resource: ResPosition, Src: colorWrite, Dst: tracedRead},
	{From: PassGBuffer, To: PassReflection, Resource: ResNormal, Src: colorWrite, Dst: tracedRead},
	{From: PassGBuffer, To: PassReflection, Resource: ResUV, Src: colorWrite, Dst: tracedRead},
	{From: PassGBuffer, To: PassLighting, Resource: ResPosition, Src: colorWrite, Dst: fragmentRead},
	{From: PassGBuffer, To: PassLighting, Resource: ResNormal, Src: colorWrite, Dst: fragmentRead},
	{From: PassGBuffer, To: PassLighting, Resource: ResUV, Src: colorWrite, Dst: fragmentRead},
	{From: PassGBuffer, To: PassLighting, Resource: ResDepth, Src: depthWrite, Dst: fragmentRead},

	// top level structure
	{From: PassASUpdate, To: PassShadow, Resource: ResTLAS, Src: tlasWrite, Dst: tlasRead},
	{From: PassASUpdate, To: PassAO, Resource: ResTLAS, Src: tlasWrite, Dst: tlasRead},
	{From: PassASUpdate, To: PassReflection, Resource: ResTLAS, Src: tlasWrite, Dst: tlasRead},

	// traced outputs
	{From: PassShadow, To: PassLighting, Resource: ResShadow, Src: tracedWrite, Dst: fragmentRead},
	{From: PassAO, To: PassLighting, Resource: ResAO, Src: tracedWrite, Dst: fragmentRead},
	{From: PassReflection, To: PassLighting, Resource: ResReflection, Src: tracedWrite, Dst: fragmentRead},

	// composite
	{From: PassLighting, To: PassUI, Resource: ResComposite, Src: colorWrite, Dst: colorLoad},
	{From: PassLighting, To: PassPresent, Resource: ResComposite, Src: colorWrite, Dst: copySource},
	{From: PassUI, To: PassPresent, Resource: ResComposite, Src: colorLoad, Dst: copySource},

	// previous frame readers against this frame's writers
	{From: PassShadow, To: PassGBuffer, Resource: ResPosition, Src: tracedRead, Dst: colorWrite, CrossFrame: true},
	{From: PassAO, To: PassGBuffer, Resource: ResPosition, Src: tracedRead, Dst: colorWrite, CrossFrame: true},
	{From: PassReflection, To: PassGBuffer, Resource: ResPosition, Src: tracedRead, Dst: colorWrite, CrossFrame: true},
	{From: PassLighting, To: PassGBuffer, Resource: ResPosition, Src: fragmentRead, Dst: colorWrite, CrossFrame: true},
	{From: PassAO, To: PassGBuffer, Resource: ResNormal, Src: tracedRead, Dst: colorWrite, CrossFrame: true},
	{From: PassReflection, To: PassGBuffer, Resource: ResNormal, Src: tracedRead, Dst: colorWrite, CrossFrame: true},
	{From: PassLighting, To: PassGBuffer, Resource: ResNormal, Src: fragmentRead, Dst: colorWrite, CrossFrame: true},
	{From: PassReflection, To: PassGBuffer, Resource: ResUV, Src: tracedRead, Dst: colorWrite, CrossFrame: true},
	{From: PassLighting, To: PassGBuffer, Resource: ResUV, Src: fragmentRead, Dst: colorWrite, CrossFrame: true},
	{From: PassLighting, To: PassGBuffer, Resource: ResDepth, Src: fragmentRead, Dst: depthWrite, CrossFrame: true},
	{From: PassShadow, To: PassASUpdate, Resource: ResTLAS, Src: tlasRead, Dst: tlasWrite, CrossFrame: true},
	{From: PassAO, To: PassASUpdate, Resource: ResTLAS, Src: tlasRead, Dst: tlasWrite, CrossFrame: true},
	{From: PassReflection, To: PassASUpdate, Resource: ResTLAS, Src: tlasRead, Dst: tlasWrite, CrossFrame: true},
	{From: PassLighting, To: PassShadow, Resource: ResShadow, Src: fragmentRead, Dst: tracedWrite, CrossFrame: true},
	{From: PassLighting, To: PassAO, Resource: ResAO, Src: fragmentRead, Dst: tracedWrite, CrossFrame: true},
	{From: PassLighting, To: PassReflection, Resource: ResReflection, Src: fragmentRead, Dst: tracedWrite, CrossFrame: true},
	{From: PassPresent, To: PassLighting, Resource: ResComposite, Src: copySource, Dst: colorWrite, CrossFrame: true},
}

// outgoing returns the intra-frame edges leaving from for r, in order.
func outgoing(from PassID, r Resource) []Edge {
	var out []Edge
	for _, e := range Edges {
		if !e.CrossFrame && e.From == from && e.Resource == r {
			out = append(out, e)
		}
	}
	return out
}

// incoming returns the cross-frame edges arriving at to for r.
func incoming(to PassID, r Resource) []Edge {
	var out []Edge
	for _, e := range Edges {
		if e.CrossFrame && e.To == to && e.Resource == r {
			out = append(out, e)
		}
	}
	return out
}
