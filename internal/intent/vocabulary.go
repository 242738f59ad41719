package intent

import "github.com/mpataki/transmute/internal/models"

// verbs map call names to the operation they perform wherever they appear.
// Keys may be qualified as "library.name" to disambiguate.
var verbs = map[string]models.OperationKind{
	// loading
	"read.csv": models.OpLoad, "read.table": models.OpLoad, "read.delim": models.OpLoad,
	"read_csv": models.OpLoad, "read_tsv": models.OpLoad, "read_excel": models.OpLoad,
	"readRDS": models.OpLoad, "fread": models.OpLoad, "read_json": models.OpLoad,
	"read_parquet": models.OpLoad, "read_sql": models.OpLoad, "open": models.OpLoad,
	"readFileSync": models.OpLoad, "readFile": models.OpLoad,
	"os.Open": models.OpLoad, "os.ReadFile": models.OpLoad, "csv.NewReader": models.OpLoad,

	// filtering
	"filter": models.OpFilter, "subset": models.OpFilter, "query": models.OpFilter,
	"where": models.OpFilter, "subscript_filter": models.OpFilter,

	// grouping
	"group_by": models.OpGroup, "groupby": models.OpGroup, "groupBy": models.OpGroup,

	// aggregation
	"summarise": models.OpAggregate, "summarize": models.OpAggregate, "aggregate": models.OpAggregate,
	"agg": models.OpAggregate, "tapply": models.OpAggregate, "reduce": models.OpAggregate,
	"count": models.OpAggregate, "tally": models.OpAggregate,

	// sorting
	"arrange": models.OpSort, "sort_values": models.OpSort, "sort_index": models.OpSort,
	"sorted": models.OpSort, "sort": models.OpSort, "nlargest": models.OpSort,
	"nsmallest": models.OpSort, "sort.Slice": models.OpSort, "sort.SliceStable": models.OpSort,
	"sort.Ints": models.OpSort, "sort.Strings": models.OpSort, "slices.Sort": models.OpSort,
	"slices.SortFunc": models.OpSort,

	// selection
	"select": models.OpSelect, "pull": models.OpSelect, "drop": models.OpSelect,

	// derivation
	"mutate": models.OpMutate, "transmute": models.OpMutate, "assign": models.OpMutate,
	"apply": models.OpMutate, "map": models.OpMutate, "rename": models.OpMutate,

	// joins
	"merge": models.OpJoin, "inner_join": models.OpJoin, "left_join": models.OpJoin,
	"right_join": models.OpJoin, "full_join": models.OpJoin, "join": models.OpJoin,
	"concat": models.OpJoin, "rbind": models.OpJoin, "cbind": models.OpJoin,

	// writing
	"write.csv": models.OpWrite, "write.table": models.OpWrite, "write_csv": models.OpWrite,
	"saveRDS": models.OpWrite, "fwrite": models.OpWrite, "to_csv": models.OpWrite,
	"to_excel": models.OpWrite, "to_json": models.OpWrite, "to_parquet": models.OpWrite,
	"writeFileSync": models.OpWrite, "writeFile": models.OpWrite,
	"os.Create": models.OpWrite, "os.WriteFile": models.OpWrite, "csv.NewWriter": models.OpWrite,

	// printing
	"print": models.OpPrint, "cat": models.OpPrint, "message": models.OpPrint,
	"display": models.OpPrint, "console.log": models.OpPrint, "console.table": models.OpPrint,
	"fmt.Println": models.OpPrint, "fmt.Printf": models.OpPrint, "fmt.Print": models.OpPrint,
}

// helpers only count as aggregation at the top level; nested inside another
// call they are arguments of that call (sum inside summarise).
var helpers = map[string]models.OperationKind{
	"sum": models.OpAggregate, "mean": models.OpAggregate, "median": models.OpAggregate,
	"n": models.OpAggregate, "size": models.OpAggregate, "max": models.OpAggregate,
	"min": models.OpAggregate, "sd": models.OpAggregate, "std": models.OpAggregate,
	"nunique": models.OpAggregate, "length": models.OpAggregate,
}

func lookup(c models.Call) (models.OperationKind, bool) {
	if c.Library != "" {
		if k, ok := verbs[c.Library+"."+c.Name]; ok {
			return k, true
		}
	}
	if k, ok := verbs[c.Name]; ok {
		return k, true
	}
	if c.Depth == 0 {
		if k, ok := helpers[c.Name]; ok {
			return k, true
		}
	}
	return "", false
}
