package lexstore_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hupe1980/lexstore"
)

// Example demonstrates writing documents and searching them.
func Example() {
	ctx := context.Background()

	db, err := lexstore.Open(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	err = db.Update(ctx, func(tx *lexstore.Tx) error {
		if err := tx.Put("doc", lexstore.IntID(1), []byte(`{"title":"write-ahead logging"}`)); err != nil {
			return err
		}
		return tx.Put("doc", lexstore.IntID(2), []byte(`{"title":"snapshot isolation"}`))
	})
	if err != nil {
		log.Fatal(err)
	}

	results, err := db.Search("snapshot").WithValues().Execute(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range results {
		fmt.Printf("%s/%s %s\n", r.Entity, r.ID, r.Value)
	}
	// Output: doc/2 {"title":"snapshot isolation"}
}

// Example_rollback shows that a failed Update leaves nothing behind.
func Example_rollback() {
	ctx := context.Background()

	db, err := lexstore.Open(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	_ = db.Update(ctx, func(tx *lexstore.Tx) error {
		if err := tx.Put("doc", lexstore.StringID("draft"), []byte("unfinished")); err != nil {
			return err
		}
		return errors.New("validation failed")
	})

	_, err = db.Get(ctx, "doc", lexstore.StringID("draft"))
	fmt.Println(errors.Is(err, lexstore.ErrNotFound))
	// Output: true
}
