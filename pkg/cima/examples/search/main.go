// Example: search every registered site using the cima library
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alvarorichard/cimaresolver/pkg/cima"
)

func main() {
	client, err := cima.NewClient(cima.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Searching for 'الهيبة'...")
	results, err := client.Search(ctx, "الهيبة", "")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("\nFound %d results:\n\n", len(results))
	for i, t := range results {
		fmt.Printf("%d. %s [%s]\n", i+1, t.Name, t.Site)
		fmt.Printf("   URL: %s\n", t.URL)
		if t.Year > 0 {
			fmt.Printf("   Year: %d\n", t.Year)
		}
	}
}
