package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/logio"
)

func TestStage4Activity_NoRegisteredSourceIDs_NoOp(t *testing.T) {
	source, target := newOrgs()
	p := New(source, target, logio.NewDefault())
	err := p.stage4or5Activity(context.Background(), &SeedPlan{}, "Task")
	require.NoError(t, err)
	_, has := p.Results.Objects["Task"]
	assert.False(t, has)
}

func TestStage4Activity_DedupesRecordMatchingBothWhatAndWho(t *testing.T) {
	source, target := newOrgs()
	source.Seed("Task", conn.Record{"Id": "00TA", "Subject": "Renewal", "WhatId": "001A", "WhoId": "001A"})

	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")

	err := p.stage4or5Activity(context.Background(), &SeedPlan{}, "Task")
	require.NoError(t, err)

	// The record matches both the WhatId and WhoId queries, but the stage
	// dedupes on source Id so it's written exactly once.
	assert.Equal(t, 1, p.Results.For("Task").Queried)
	assert.Equal(t, 1, p.Results.For("Task").Inserted)
	records := target.Records("Task")
	require.Len(t, records, 1)
	assert.Equal(t, "001X", records[0]["WhatId"])
	assert.Equal(t, "001X", records[0]["WhoId"])
}

func TestStage4Activity_UnresolvedPolymorphicRefWritesNullNotSkip(t *testing.T) {
	source, target := newOrgs()
	source.Seed("Task", conn.Record{"Id": "00TA", "Subject": "Cold lead", "WhatId": "001A", "WhoId": "003NOTSEEDED"})

	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")
	// No Contact registry entry at all.

	err := p.stage4or5Activity(context.Background(), &SeedPlan{}, "Task")
	require.NoError(t, err)

	assert.Equal(t, 0, p.Results.For("Task").Failed)
	records := target.Records("Task")
	require.Len(t, records, 1)
	assert.Equal(t, "001X", records[0]["WhatId"])
	assert.Nil(t, records[0]["WhoId"])
}

func TestStage4Activity_RecordOutsideScope_NeverQueried(t *testing.T) {
	source, target := newOrgs()
	// Neither WhatId nor WhoId is a registered source id anywhere.
	source.Seed("Task", conn.Record{"Id": "00TA", "Subject": "Unrelated", "WhatId": "001ZZZ", "WhoId": "003ZZZ"})

	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")

	err := p.stage4or5Activity(context.Background(), &SeedPlan{}, "Task")
	require.NoError(t, err)
	assert.Empty(t, target.Records("Task"))
}

func TestStage5Event_SharesMechanicsWithTask(t *testing.T) {
	source, target := newOrgs()
	for _, f := range []*conn.Fake{source, target} {
		f.RegisterObject(conn.ObjectInfo{Name: "Event", Label: "Event", Queryable: true, Createable: true, KeyPrefix: "00U"})
		f.SetDescribe("Event", &conn.DescribeResult{
			Fields: []conn.FieldInfo{
				{Name: "Id", Type: "id"},
				{Name: "Subject", Type: "string", Writable: true},
				{Name: "WhatId", Type: "reference", Writable: true, Nullable: true, ReferenceTargets: []string{"Account", "Opportunity"}},
				{Name: "WhoId", Type: "reference", Writable: true, Nullable: true, ReferenceTargets: []string{"Contact", "Lead"}},
			},
		})
	}
	source.Seed("Event", conn.Record{"Id": "00UA", "Subject": "Kickoff call", "WhatId": "001A"})

	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")

	err := p.stage4or5Activity(context.Background(), &SeedPlan{}, "Event")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Results.For("Event").Inserted)
}

func TestRemapPolymorphic_NilInputReturnsNil(t *testing.T) {
	source, target := newOrgs()
	p := New(source, target, logio.NewDefault())
	assert.Nil(t, remapPolymorphic(p, nil))
}
