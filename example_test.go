package loreline_test

import (
	"context"
	"fmt"

	"github.com/loreline-app/loreline"
)

func Example() {
	ctx := context.Background()

	// Open a fully local database; no remote endpoint means mutations
	// simply accumulate in the queue.
	cfg := loreline.DefaultConfig("")
	cfg.Driver = loreline.DriverMemory
	db, err := loreline.Open(cfg)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Build a small world.
	project, _ := db.CreateProject(ctx, "The Shattered Coast")
	hero, _ := db.CreateElement(ctx, project.ID, loreline.CategoryCharacter, "Mara")
	city, _ := db.CreateElement(ctx, project.ID, loreline.CategoryLocation, "Veldt")
	_, _ = db.AddRelationship(ctx, hero.ID, city.ID, loreline.RelLocatedIn)

	// Reads are local and immediate.
	fmt.Printf("related: %v\n", db.Index().AreElementsRelated(hero.ID, city.ID))
	fmt.Printf("queued: %d\n", db.Queue().PendingCount())
	// Output:
	// related: true
	// queued: 4
}

func ExampleRelationshipIndex_GetRelationshipPath() {
	ctx := context.Background()

	cfg := loreline.DefaultConfig("")
	cfg.Driver = loreline.DriverMemory
	db, _ := loreline.Open(cfg)
	defer db.Close()

	project, _ := db.CreateProject(ctx, "world")
	a, _ := db.CreateElement(ctx, project.ID, loreline.CategoryCharacter, "A")
	b, _ := db.CreateElement(ctx, project.ID, loreline.CategoryCharacter, "B")
	c, _ := db.CreateElement(ctx, project.ID, loreline.CategoryOrganization, "C")
	_, _ = db.AddRelationship(ctx, a.ID, b.ID, loreline.RelAllyOf)
	_, _ = db.AddRelationship(ctx, b.ID, c.ID, loreline.RelMemberOf)

	path := db.Index().GetRelationshipPath(a.ID, c.ID, 5)
	fmt.Printf("hops: %d\n", len(path))

	stats := db.Index().Stats()
	fmt.Printf("relationships: %d connected: %d\n",
		stats.TotalRelationships, stats.ElementsWithRelationships)
	// Output:
	// hops: 2
	// relationships: 2 connected: 3
}
