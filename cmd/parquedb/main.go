// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	kitlog "github.com/go-kit/log"

	parquedb "github.com/arrowarc/parquedb"
	"github.com/arrowarc/parquedb/internal/config"
)

func main() {
	usage := `ParqueDB local smoke-test harness.

Usage:
  parquedb create --ns=<ns> --type=<type> --name=<name> [--data=<json>] [--config=<path>]
  parquedb get --ns=<ns> --id=<id> [--as-of=<rfc3339>] [--config=<path>]
  parquedb find --ns=<ns> [--field=<field>] [--eq=<value>] [--config=<path>]
  parquedb flush [--config=<path>]
  parquedb -h | --help

Options:
  -h --help            Show this screen.
  --ns=<ns>            Namespace.
  --type=<type>        Entity $type.
  --name=<name>        Entity display name.
  --data=<json>        Additional user fields as a JSON object.
  --id=<id>            Entity id (ULID).
  --as-of=<rfc3339>    Time-travel read at this instant.
  --field=<field>      Filter field.
  --eq=<value>         Equality filter value.
  --config=<path>      YAML config path (defaults apply when omitted).
`

	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatalf("Error parsing arguments: %v", err)
	}

	configPath, _ := arguments.String("--config")
	cfg := config.Defaults()
	if configPath != "" {
		if cfg, err = config.Parse(configPath); err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
	}

	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	db, err := parquedb.Open(cfg, parquedb.Options{Logger: logger})
	if err != nil {
		log.Fatalf("Error opening store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	defer db.Close(ctx)

	ns, _ := arguments.String("--ns")

	switch {
	case mustBool(arguments, "create"):
		typ, _ := arguments.String("--type")
		name, _ := arguments.String("--name")
		data := map[string]any{"$type": typ, "name": name}
		if raw, _ := arguments.String("--data"); raw != "" {
			extra := map[string]any{}
			if err := json.Unmarshal([]byte(raw), &extra); err != nil {
				log.Fatalf("Error parsing --data: %v", err)
			}
			for k, v := range extra {
				data[k] = v
			}
		}
		entity, err := db.Create(ctx, ns, data, parquedb.CreateOptions{Actor: "cli"})
		if err != nil {
			log.Fatalf("Error creating entity: %v", err)
		}
		fmt.Printf("%s/%s version=%d\n", ns, entity.ID, entity.Version)

	case mustBool(arguments, "get"):
		id, _ := arguments.String("--id")
		opts := parquedb.GetOptions{}
		if asOf, _ := arguments.String("--as-of"); asOf != "" {
			t, err := time.Parse(time.RFC3339Nano, asOf)
			if err != nil {
				log.Fatalf("Error parsing --as-of: %v", err)
			}
			opts.AsOf = &t
		}
		entity, err := db.Get(ctx, ns, id, opts)
		if err != nil {
			log.Fatalf("Error reading entity: %v", err)
		}
		if entity == nil {
			fmt.Println("not found")
			return
		}
		printJSON(entity.Snapshot())

	case mustBool(arguments, "find"):
		filter := parquedb.Filter{}
		if field, _ := arguments.String("--field"); field != "" {
			filter.Field = field
			if eq, _ := arguments.String("--eq"); eq != "" {
				filter.Eq = eq
			}
		}
		res, err := db.Find(ctx, ns, filter, parquedb.FindOptions{})
		if err != nil {
			log.Fatalf("Error querying: %v", err)
		}
		for _, e := range res.Items {
			fmt.Printf("%s/%s %s\n", ns, e.ID, e.Name)
		}
		fmt.Printf("total=%d hasMore=%v\n", res.Total, res.HasMore)

	case mustBool(arguments, "flush"):
		if err := db.Flush(ctx); err != nil {
			log.Fatalf("Error flushing: %v", err)
		}
		fmt.Println("flushed")
	}
}

func mustBool(args docopt.Opts, key string) bool {
	v, _ := args.Bool(key)
	return v
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Error encoding output: %v", err)
	}
	fmt.Println(string(out))
}
