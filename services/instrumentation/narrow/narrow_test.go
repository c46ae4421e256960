// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package narrow

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/classcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(classes []*classcache.ClassType) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = c.FQN()
	}
	return out
}

func addClass(t *testing.T, c *classcache.ClassCache, r classcache.ClassReport) {
	t.Helper()
	_, err := c.AddClass(r)
	require.NoError(t, err)
}

func addInterface(t *testing.T, c *classcache.ClassCache, r classcache.InterfaceReport) {
	t.Helper()
	_, err := c.AddInterface(r)
	require.NoError(t, err)
}

func TestNarrow_InterfaceThroughSubInterface(t *testing.T) {
	// J extends I, K implements J; I is never reported.
	c := classcache.New()
	addInterface(t, c, classcache.InterfaceReport{FQN: "J", SuperInterfaces: []string{"I"}})
	addClass(t, c, classcache.ClassReport{FQN: "K", Interfaces: []string{"J"}})

	i, ok := c.Interface("I")
	require.True(t, ok)
	assert.False(t, i.IsInitialized())

	got := Narrow(context.Background(), c, ByInterface{Pattern: "I"})
	assert.Equal(t, []string{"K"}, names(got))
}

func TestNarrow_InterfaceIncludesSubclasses(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "Base", Interfaces: []string{"I"}})
	addClass(t, c, classcache.ClassReport{FQN: "Derived", SuperClass: "Base"})
	addClass(t, c, classcache.ClassReport{FQN: "Unrelated"})

	got := Narrow(context.Background(), c, ByInterface{Pattern: "I"})
	assert.Equal(t, []string{"Base", "Derived"}, names(got))
}

func TestNarrow_InterfaceDeduplicates(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "Both", Interfaces: []string{"api.A", "api.B"}})
	addClass(t, c, classcache.ClassReport{FQN: "Child", SuperClass: "Both", Interfaces: []string{"api.B"}})

	got := Narrow(context.Background(), c, ByInterface{Pattern: "api.*"})
	assert.Equal(t, []string{"Both", "Child"}, names(got))
}

func TestNarrow_InterfaceChainWithSubclasses(t *testing.T) {
	// I <- J <- K, Impl implements K, Leaf extends Impl.
	c := classcache.New()
	addInterface(t, c, classcache.InterfaceReport{FQN: "J", SuperInterfaces: []string{"I"}})
	addInterface(t, c, classcache.InterfaceReport{FQN: "K", SuperInterfaces: []string{"J"}})
	addClass(t, c, classcache.ClassReport{FQN: "Impl", Interfaces: []string{"K"}})
	addClass(t, c, classcache.ClassReport{FQN: "Leaf", SuperClass: "Impl"})
	addClass(t, c, classcache.ClassReport{FQN: "Orphan", SuperClass: "Missing"})

	got := Narrow(context.Background(), c, ByInterface{Pattern: "I"})
	assert.Equal(t, []string{"Impl", "Leaf"}, names(got))
}

func TestNarrow_SuperclassReflexiveTransitive(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "A"})
	addClass(t, c, classcache.ClassReport{FQN: "B", SuperClass: "A"})
	addClass(t, c, classcache.ClassReport{FQN: "C", SuperClass: "B"})

	got := Narrow(context.Background(), c, BySuperclass{Pattern: "A"})
	assert.Equal(t, []string{"A", "B", "C"}, names(got))
}

func TestNarrow_SuperclassSkipsStubs(t *testing.T) {
	// A is a stub.
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "B", SuperClass: "A"})
	addClass(t, c, classcache.ClassReport{FQN: "C", SuperClass: "B"})

	got := Narrow(context.Background(), c, BySuperclass{Pattern: "A"})
	assert.Equal(t, []string{"B", "C"}, names(got))

	// B is a stub seed; the walk still reaches C.
	stubOnly := classcache.New()
	addClass(t, stubOnly, classcache.ClassReport{FQN: "C", SuperClass: "B"})
	got = Narrow(context.Background(), stubOnly, BySuperclass{Pattern: "B"})
	assert.Equal(t, []string{"C"}, names(got))
}

func TestNarrow_ClassNameIsNotExpanded(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "com.acme.A"})
	addClass(t, c, classcache.ClassReport{FQN: "com.acme.B", SuperClass: "com.acme.A"})
	addClass(t, c, classcache.ClassReport{FQN: "com.other.C", SuperClass: "com.acme.Stub"})

	assert.Equal(t, []string{"com.acme.A"}, names(Narrow(context.Background(), c, ByClassName{Pattern: "com.acme.A"})))
	assert.Equal(t, []string{"com.acme.A", "com.acme.B"},
		names(Narrow(context.Background(), c, ByClassName{Pattern: "com.acme.*"})))
	assert.Empty(t, Narrow(context.Background(), c, ByClassName{Pattern: "com.acme.Stub"}))
}

func TestNarrow_AnnotationOnInterface(t *testing.T) {
	c := classcache.New()
	addInterface(t, c, classcache.InterfaceReport{FQN: "Iface", Annotations: []string{"A"}})
	addClass(t, c, classcache.ClassReport{FQN: "Impl", Interfaces: []string{"Iface"}})

	got := Narrow(context.Background(), c, ByAnnotation{Annotation: "A"})
	assert.Equal(t, []string{"Impl"}, names(got))
}

func TestNarrow_AnnotationOnClassAndSubInterface(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "Annotated", Annotations: []string{"com.acme.Traced"}})
	addClass(t, c, classcache.ClassReport{FQN: "AnnotatedChild", SuperClass: "Annotated"})
	addInterface(t, c, classcache.InterfaceReport{FQN: "Sub", SuperInterfaces: []string{"Top"}})
	addInterface(t, c, classcache.InterfaceReport{FQN: "Top", Annotations: []string{"com.acme.Traced"}})
	addClass(t, c, classcache.ClassReport{FQN: "SubImpl", Interfaces: []string{"Sub"}})

	got := Narrow(context.Background(), c, ByAnnotation{Annotation: "com.acme.*"})
	assert.Equal(t, []string{"Annotated", "AnnotatedChild", "SubImpl"}, names(got))
}

func TestNarrow_AnnotationOnMethodContributesOwnerOnly(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{
		FQN:     "Owner",
		Methods: []classcache.MethodReport{{Name: "handle", Annotations: []string{"Timed"}}},
	})
	addClass(t, c, classcache.ClassReport{FQN: "OwnerChild", SuperClass: "Owner"})

	got := Narrow(context.Background(), c, ByAnnotation{Annotation: "Timed"})
	assert.Equal(t, []string{"Owner"}, names(got))
}

func TestNarrow_NoMatches(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "A"})

	for _, m := range []Matching{
		ByClassName{Pattern: "Nope"},
		BySuperclass{Pattern: "Nope"},
		ByInterface{Pattern: "Nope"},
		ByAnnotation{Annotation: "Nope"},
	} {
		t.Run(m.Mode(), func(t *testing.T) {
			got := Narrow(context.Background(), c, m)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestNarrow_PanicsOnNilMatching(t *testing.T) {
	assert.Panics(t, func() {
		Narrow(context.Background(), classcache.New(), nil)
	})
}

func TestContains(t *testing.T) {
	c := classcache.New()
	addClass(t, c, classcache.ClassReport{FQN: "A"})
	addClass(t, c, classcache.ClassReport{FQN: "B", SuperClass: "A"})

	assert.True(t, Contains(context.Background(), c, BySuperclass{Pattern: "A"}, "B"))
	assert.False(t, Contains(context.Background(), c, BySuperclass{Pattern: "B"}, "A"))
}

func TestNarrow_LongChain(t *testing.T) {
	c := classcache.New()
	const depth = 200
	for i := 1; i <= depth; i++ {
		addClass(t, c, classcache.ClassReport{
			FQN:        fmt.Sprintf("C%03d", i),
			SuperClass: fmt.Sprintf("C%03d", i-1),
		})
	}
	got := Narrow(context.Background(), c, BySuperclass{Pattern: "C000"})
	assert.Len(t, got, depth)
}

func TestMatching_Strings(t *testing.T) {
	assert.Equal(t, "class a.B", ByClassName{Pattern: "a.B"}.String())
	assert.Equal(t, "superclass a.B", BySuperclass{Pattern: "a.B"}.String())
	assert.Equal(t, "interface a.B", ByInterface{Pattern: "a.B"}.String())
	assert.Equal(t, "@a.B", ByAnnotation{Annotation: "a.B"}.String())
}

func TestContains_StubsAndMethodAnnotations(t *testing.T) {
	ctx := context.Background()
	c := classcache.New()
	// Base is only referenced, so it stays a stub between Leaf and Root.
	addClass(t, c, classcache.ClassReport{FQN: "Leaf", SuperClass: "Base"})
	addClass(t, c, classcache.ClassReport{FQN: "Owner", Methods: []classcache.MethodReport{
		{Name: "run", Annotations: []string{"ann.Timed"}},
	}})
	addClass(t, c, classcache.ClassReport{FQN: "OwnerChild", SuperClass: "Owner"})

	assert.True(t, Contains(ctx, c, BySuperclass{Pattern: "Base"}, "Leaf"))
	assert.False(t, Contains(ctx, c, BySuperclass{Pattern: "Base"}, "Base"), "stubs are never affected")
	assert.False(t, Contains(ctx, c, ByClassName{Pattern: "*"}, "Missing"))

	assert.True(t, Contains(ctx, c, ByAnnotation{Annotation: "ann.Timed"}, "Owner"))
	assert.False(t, Contains(ctx, c, ByAnnotation{Annotation: "ann.Timed"}, "OwnerChild"),
		"method annotations do not reach subclasses")
}

func TestContains_PanicsOnNilMatching(t *testing.T) {
	assert.Panics(t, func() { Contains(context.Background(), classcache.New(), nil, "A") })
}

// randomGraph reports a deterministic pseudo-random hierarchy: interfaces
// with super-interfaces, classes with superclasses (some of them stubs),
// implemented interfaces (some of them stubs) and annotations on classes,
// interfaces and methods.
func randomGraph(t *testing.T, seed uint64) (*classcache.ClassCache, []string) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	c := classcache.New()

	annotations := func() []string {
		var out []string
		for i := range 4 {
			if rng.IntN(6) == 0 {
				out = append(out, fmt.Sprintf("ann.A%d", i))
			}
		}
		return out
	}

	const numInterfaces, numClasses = 15, 60
	for i := range numInterfaces {
		r := classcache.InterfaceReport{FQN: fmt.Sprintf("api.I%02d", i), Annotations: annotations()}
		for range rng.IntN(3) {
			if i > 0 {
				r.SuperInterfaces = append(r.SuperInterfaces, fmt.Sprintf("api.I%02d", rng.IntN(i)))
			} else {
				r.SuperInterfaces = append(r.SuperInterfaces, "api.Stub")
			}
		}
		r.SuperInterfaces = slices.Compact(slices.Sorted(slices.Values(r.SuperInterfaces)))
		addInterface(t, c, r)
	}

	all := []string{"gen.Stub0", "gen.Stub1"}
	for i := range numClasses {
		fqn := fmt.Sprintf("gen.C%02d", i)
		all = append(all, fqn)
		r := classcache.ClassReport{FQN: fqn, Annotations: annotations()}
		switch n := rng.IntN(5); {
		case n == 0:
		case n == 1:
			r.SuperClass = fmt.Sprintf("gen.Stub%d", rng.IntN(2))
		case i > 0:
			r.SuperClass = fmt.Sprintf("gen.C%02d", rng.IntN(i))
		}
		for range rng.IntN(3) {
			r.Interfaces = append(r.Interfaces, fmt.Sprintf("api.I%02d", rng.IntN(numInterfaces)))
		}
		r.Interfaces = slices.Compact(slices.Sorted(slices.Values(r.Interfaces)))
		if rng.IntN(3) == 0 {
			r.Methods = []classcache.MethodReport{{Name: "m", Annotations: annotations()}}
		}
		addClass(t, c, r)
	}
	return c, all
}

func TestContains_AgreesWithNarrow(t *testing.T) {
	ctx := context.Background()
	matchings := []Matching{
		ByClassName{Pattern: "gen.C1*"},
		ByClassName{Pattern: "gen.C07"},
		BySuperclass{Pattern: "gen.C0*"},
		BySuperclass{Pattern: "gen.Stub*"},
		ByInterface{Pattern: "api.I0*"},
		ByInterface{Pattern: "api.Stub"},
		ByInterface{Pattern: "*"},
		ByAnnotation{Annotation: "ann.A1"},
		ByAnnotation{Annotation: "ann.*"},
	}

	for seed := range uint64(8) {
		c, all := randomGraph(t, seed)
		for _, m := range matchings {
			affected := names(Narrow(ctx, c, m))
			for _, fqn := range all {
				_, want := slices.BinarySearch(affected, fqn)
				assert.Equal(t, want, Contains(ctx, c, m, fqn), "seed %d, %s, class %s", seed, m, fqn)
			}
		}
	}
}
