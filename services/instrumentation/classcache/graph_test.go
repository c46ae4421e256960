// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classcache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertEdgeSymmetry walks every forward edge and checks its reverse.
func assertEdgeSymmetry(t *testing.T, c *ClassCache) {
	t.Helper()
	err := c.View(func(v *View) error {
		for _, cls := range c.classes {
			if cls.superClass != nil {
				assert.Same(t, cls, cls.superClass.subClasses[cls.fqn], "subclass edge %s", cls.fqn)
			}
			for _, sub := range cls.subClasses {
				assert.Same(t, cls, sub.superClass, "superclass edge %s", sub.fqn)
			}
			for name, iface := range cls.interfaces {
				assert.Equal(t, name, iface.fqn)
				assert.Same(t, cls, iface.implementors[cls.fqn], "implementor edge %s", cls.fqn)
			}
			for _, ann := range cls.annotations {
				assert.Same(t, cls, ann.annotatedClasses[cls.fqn])
			}
			for _, m := range cls.methods {
				assert.Same(t, cls, m.owner)
				for _, ann := range m.annotations {
					assert.Same(t, m, ann.annotatedMethods[m.key()])
				}
			}
		}
		for _, iface := range c.interfaces {
			for _, super := range iface.superInterfaces {
				assert.Same(t, iface, super.subInterfaces[iface.fqn])
			}
			for _, sub := range iface.subInterfaces {
				assert.Same(t, iface, sub.superInterfaces[iface.fqn])
			}
			for _, impl := range iface.implementors {
				assert.Same(t, iface, impl.interfaces[iface.fqn])
			}
			for _, ann := range iface.annotations {
				assert.Same(t, iface, ann.annotatedInterfaces[iface.fqn])
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAddClass_CreatesStubsAndEdges(t *testing.T) {
	c := New()

	cls, err := c.AddClass(ClassReport{
		FQN:         "com.acme.OrderService",
		Hash:        "h1",
		Modifiers:   1,
		SuperClass:  "com.acme.AbstractService",
		Interfaces:  []string{"com.acme.Service"},
		Annotations: []string{"com.acme.Managed"},
		Methods: []MethodReport{
			{Name: "place", ReturnType: "void", Parameters: []string{"com.acme.Order"}, Annotations: []string{"com.acme.Timed"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, cls.IsInitialized())

	super, ok := c.Class("com.acme.AbstractService")
	require.True(t, ok)
	assert.False(t, super.IsInitialized())
	assert.Same(t, super, cls.SuperClass())

	iface, ok := c.Interface("com.acme.Service")
	require.True(t, ok)
	assert.Equal(t, StateStub, iface.State())

	ann, ok := c.Annotation("com.acme.Timed")
	require.True(t, ok)
	_ = c.View(func(v *View) error {
		methods := v.AnnotatedMethods(ann)
		require.Len(t, methods, 1)
		assert.Equal(t, "place(com.acme.Order)", methods[0].Signature())
		assert.Same(t, cls, methods[0].Owner())
		assert.Equal(t, []*ClassType{cls}, v.Subclasses(super))
		assert.Equal(t, []*ClassType{cls}, v.Implementors(iface))
		return nil
	})

	info, ok := cls.Info()
	require.True(t, ok)
	assert.Equal(t, []string{"h1"}, info.Hashes)
	assert.Equal(t, 1, info.Modifiers)

	_, ok = super.Info()
	assert.False(t, ok)

	assertEdgeSymmetry(t, c)
}

func TestAddClass_UpgradeKeepsEdges(t *testing.T) {
	c := New()

	_, err := c.AddClass(ClassReport{FQN: "Derived", SuperClass: "Base"})
	require.NoError(t, err)

	base, _ := c.Class("Base")
	require.False(t, base.IsInitialized())

	upgraded, err := c.AddClass(ClassReport{FQN: "Base", Hash: "b1"})
	require.NoError(t, err)
	assert.Same(t, base, upgraded)
	assert.True(t, base.IsInitialized())

	_ = c.View(func(v *View) error {
		subs := v.Subclasses(base)
		require.Len(t, subs, 1)
		assert.Equal(t, "Derived", subs[0].FQN())
		return nil
	})
	assertEdgeSymmetry(t, c)
}

func TestUpgrade(t *testing.T) {
	c := New()
	_, err := c.AddClass(ClassReport{FQN: "Impl", Interfaces: []string{"Iface"}})
	require.NoError(t, err)

	typ, err := c.Upgrade("Iface", "ih", 0x601)
	require.NoError(t, err)
	assert.Equal(t, KindInterface, typ.Kind())
	assert.True(t, typ.IsInitialized())

	iface, _ := c.Interface("Iface")
	_ = c.View(func(v *View) error {
		assert.Len(t, v.Implementors(iface), 1)
		return nil
	})

	found, ok := c.FindByHash("ih")
	require.True(t, ok)
	assert.Equal(t, "Iface", found.FQN())

	_, err = c.Upgrade("Missing", "", 0)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestAddClass_MultipleHashes(t *testing.T) {
	c := New()
	_, err := c.AddClass(ClassReport{FQN: "A", Hash: "v1"})
	require.NoError(t, err)
	cls, err := c.AddClass(ClassReport{FQN: "A", Hash: "v2"})
	require.NoError(t, err)
	_, err = c.AddClass(ClassReport{FQN: "A", Hash: "v1"})
	require.NoError(t, err)

	info, _ := cls.Info()
	assert.Equal(t, []string{"v1", "v2"}, info.Hashes)

	for _, h := range []string{"v1", "v2"} {
		found, ok := c.FindByHash(h)
		require.True(t, ok)
		assert.Same(t, Type(cls), found)
	}
}

func TestAddClass_SuperclassChangeMovesReverseEdge(t *testing.T) {
	c := New()
	_, err := c.AddClass(ClassReport{FQN: "C", SuperClass: "A"})
	require.NoError(t, err)
	_, err = c.AddClass(ClassReport{FQN: "C", SuperClass: "B"})
	require.NoError(t, err)

	a, _ := c.Class("A")
	b, _ := c.Class("B")
	_ = c.View(func(v *View) error {
		assert.Empty(t, v.Subclasses(a))
		assert.Len(t, v.Subclasses(b), 1)
		return nil
	})
	assertEdgeSymmetry(t, c)
}

func TestAddClass_MergesMethods(t *testing.T) {
	c := New()
	_, err := c.AddClass(ClassReport{FQN: "A", Methods: []MethodReport{{Name: "run", Modifiers: 1}}})
	require.NoError(t, err)
	cls, err := c.AddClass(ClassReport{FQN: "A", Methods: []MethodReport{
		{Name: "run", Modifiers: 9, Annotations: []string{"Ann"}},
		{Name: "<init>"},
	}})
	require.NoError(t, err)

	methods := cls.Methods()
	require.Len(t, methods, 2)
	assert.True(t, methods[0].IsConstructor())
	assert.Equal(t, "run()", methods[1].Signature())
	assert.Equal(t, 9, methods[1].Modifiers())
}

func TestAddClass_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *ClassCache)
		report  ClassReport
		wantErr error
	}{
		{
			name:    "empty name",
			report:  ClassReport{},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "extends itself",
			report:  ClassReport{FQN: "A", SuperClass: "A"},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "unnamed method",
			report:  ClassReport{FQN: "A", Methods: []MethodReport{{}}},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "whitespace in name",
			report:  ClassReport{FQN: "com.example.A B"},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "malformed super class",
			report:  ClassReport{FQN: "A", SuperClass: "com..B"},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "malformed interface",
			report:  ClassReport{FQN: "A", Interfaces: []string{"I", "bad\nname"}},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "malformed class annotation",
			report:  ClassReport{FQN: "A", Annotations: []string{"com.acme.Managed", "com..Bad"}},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "malformed method annotation",
			report:  ClassReport{FQN: "A", Methods: []MethodReport{{Name: "m", Annotations: []string{"Timed\x00"}}}},
			wantErr: ErrInvalidReport,
		},
		{
			name:    "empty method annotation",
			report:  ClassReport{FQN: "A", Methods: []MethodReport{{Name: "m", Annotations: []string{""}}}},
			wantErr: ErrInvalidReport,
		},
		{
			name: "class already an interface",
			setup: func(c *ClassCache) {
				_, _ = c.AddInterface(InterfaceReport{FQN: "A"})
			},
			report:  ClassReport{FQN: "A"},
			wantErr: ErrKindMismatch,
		},
		{
			name: "implements a class",
			setup: func(c *ClassCache) {
				_, _ = c.AddClass(ClassReport{FQN: "NotAnInterface"})
			},
			report:  ClassReport{FQN: "A", Interfaces: []string{"NotAnInterface"}},
			wantErr: ErrKindMismatch,
		},
		{
			name: "annotated with an interface",
			setup: func(c *ClassCache) {
				_, _ = c.AddInterface(InterfaceReport{FQN: "I"})
			},
			report:  ClassReport{FQN: "A", Methods: []MethodReport{{Name: "m", Annotations: []string{"I"}}}},
			wantErr: ErrKindMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			if tt.setup != nil {
				tt.setup(c)
			}
			before := c.Stats()
			_, err := c.AddClass(tt.report)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, c.Stats(), "failed report must not change the graph")
		})
	}
}

func TestAddInterface(t *testing.T) {
	c := New()
	iface, err := c.AddInterface(InterfaceReport{
		FQN:             "J",
		SuperInterfaces: []string{"I"},
		Annotations:     []string{"A"},
	})
	require.NoError(t, err)
	assert.True(t, iface.IsInitialized())

	i, _ := c.Interface("I")
	_ = c.View(func(v *View) error {
		assert.Equal(t, []*InterfaceType{iface}, v.SubInterfaces(i))
		assert.Equal(t, []*InterfaceType{i}, v.SuperInterfaces(iface))
		return nil
	})

	_, err = c.AddInterface(InterfaceReport{FQN: "K", SuperInterfaces: []string{"K"}})
	assert.ErrorIs(t, err, ErrInvalidReport)

	before := c.Stats()
	_, err = c.AddInterface(InterfaceReport{FQN: "L", Annotations: []string{"has space"}})
	assert.ErrorIs(t, err, ErrInvalidReport)
	assert.Equal(t, before, c.Stats(), "malformed annotation must not add the interface")

	_, err = c.AddAnnotation(AnnotationReport{FQN: "J"})
	assert.ErrorIs(t, err, ErrKindMismatch)

	assertEdgeSymmetry(t, c)
}

func TestAddAnnotation_UpgradesStub(t *testing.T) {
	c := New()
	_, err := c.AddClass(ClassReport{FQN: "A", Annotations: []string{"Ann"}})
	require.NoError(t, err)

	ann, _ := c.Annotation("Ann")
	assert.False(t, ann.IsInitialized())

	got, err := c.AddAnnotation(AnnotationReport{FQN: "Ann", Hash: "x"})
	require.NoError(t, err)
	assert.Same(t, ann, got)
	assert.True(t, ann.IsInitialized())

	_, err = c.AddAnnotation(AnnotationReport{})
	assert.ErrorIs(t, err, ErrInvalidReport)
	_, err = c.AddAnnotation(AnnotationReport{FQN: "Ann."})
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func TestView_Closures(t *testing.T) {
	c := New()
	_, _ = c.AddClass(ClassReport{FQN: "B", SuperClass: "A"})
	_, _ = c.AddClass(ClassReport{FQN: "C", SuperClass: "B"})
	_, _ = c.AddClass(ClassReport{FQN: "D", SuperClass: "A"})
	_, _ = c.AddInterface(InterfaceReport{FQN: "J", SuperInterfaces: []string{"I"}})
	_, _ = c.AddInterface(InterfaceReport{FQN: "K", SuperInterfaces: []string{"J"}})

	_ = c.View(func(v *View) error {
		a, _ := v.Class("A")
		cc, _ := v.Class("C")
		names := func(cs []*ClassType) []string {
			out := make([]string, len(cs))
			for i, x := range cs {
				out[i] = x.FQN()
			}
			return out
		}
		assert.Equal(t, []string{"B", "C", "D"}, names(v.AllSubclasses(a)))
		assert.True(t, v.IsSubclassOf(cc, a))
		assert.False(t, v.IsSubclassOf(a, cc))

		i, _ := v.Interface("I")
		subs := v.AllSubInterfaces(i)
		require.Len(t, subs, 2)
		assert.Equal(t, "J", subs[0].FQN())
		assert.Equal(t, "K", subs[1].FQN())
		return nil
	})
}

func TestStatsAndClear(t *testing.T) {
	c := New()
	_, _ = c.AddClass(ClassReport{
		FQN:        "A",
		SuperClass: "Object",
		Interfaces: []string{"I"},
		Methods:    []MethodReport{{Name: "a"}, {Name: "b"}},
	})

	s := c.Stats()
	assert.Equal(t, Stats{Classes: 2, Interfaces: 1, Methods: 2, Stubs: 2}, s)

	c.Clear()
	assert.Equal(t, Stats{}, c.Stats())
	_, ok := c.Class("A")
	assert.False(t, ok)
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := c.AddClass(ClassReport{
					FQN:        fmt.Sprintf("pkg.C%d_%d", w, i),
					SuperClass: fmt.Sprintf("pkg.Base%d", i%5),
					Interfaces: []string{"pkg.Shared"},
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = c.View(func(v *View) error {
					if iface, ok := v.Interface("pkg.Shared"); ok {
						for _, impl := range v.Implementors(iface) {
							// The reverse edge must always be accompanied by
							// its forward edge.
							_, ok := impl.interfaces["pkg.Shared"]
							assert.True(t, ok)
						}
					}
					return nil
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*100+5, c.Stats().Classes)
	assertEdgeSymmetry(t, c)
}
