// Example: resolve the stream links of a page using the cima library
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/alvarorichard/cimaresolver/pkg/cima"
)

func main() {
	if len(os.Args) != 3 {
		log.Fatal("usage: links <site> <page-url>")
	}

	client, err := cima.NewClient(cima.Options{Render: true})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	links, err := client.Links(ctx, os.Args[1], os.Args[2])
	if err != nil {
		if cima.IsSiteUnavailable(err) {
			log.Fatal("site is behind an anti-bot challenge, try again later")
		}
		log.Fatal(err)
	}
	if len(links) == 0 {
		fmt.Println("No playable sources")
		return
	}
	for _, l := range links {
		fmt.Printf("%-8s %s\n", l.Quality, l.URL)
		for k, v := range l.Headers {
			fmt.Printf("         %s: %s\n", k, v)
		}
	}
}
