// Package main is responsible for the command-line interface of the
// filtering engine.  It loads filter lists or a previously saved cache,
// answers match queries, and can persist the compiled rules.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	goFlags "github.com/jessevdk/go-flags"
	"github.com/webmacs/adblock"
	"github.com/webmacs/adblock/rules"
)

// Options represents the command-line arguments.
type Options struct {
	// FilterLists are paths to filter-list files to parse.
	FilterLists []string `short:"f" long:"filter" description:"Path to a filter list file. Can be specified multiple times."`

	// LoadPath is a path to a previously saved binary cache to load
	// instead of parsing filter lists.
	LoadPath string `short:"l" long:"load" description:"Path to a saved binary rule cache to load."`

	// SavePath is a path to save the compiled rules to after loading.
	SavePath string `short:"s" long:"save" description:"Path to save the compiled rules to."`

	// URL is a single URL to check.  When empty, URLs are read from
	// stdin, one \"url source-domain\" pair per line.
	URL string `short:"u" long:"url" description:"URL to check. When omitted, url and source-domain pairs are read from stdin."`

	// SourceDomain is the domain of the page making the request.
	SourceDomain string `short:"d" long:"domain" description:"Domain of the page the request originates from."`

	// RequestType is the resource type of the request.
	RequestType string `short:"t" long:"type" description:"Request type: document, script, stylesheet, image, media, font, xmlhttprequest, websocket, ping, other." default:"other"`

	// Verbose defines whether we should write the debug-level log or not.
	Verbose bool `short:"v" long:"verbose" description:"Verbose output (optional)." optional:"yes" optional-value:"true"`
}

func main() {
	var options Options
	parser := goFlags.NewParser(&options, goFlags.Default)

	_, err := parser.Parse()
	if err != nil {
		if errFlag, ok := err.(*goFlags.Error); ok && errFlag.Type == goFlags.ErrHelp {
			os.Exit(0)
		}

		os.Exit(1)
	}

	run(options)
}

func run(options Options) {
	logger := slogutil.New(&slogutil.Config{
		Format:  slogutil.FormatText,
		Verbose: options.Verbose,
	})

	engine := adblock.NewEngine(logger)

	if options.LoadPath != "" {
		if !engine.Load(options.LoadPath) {
			os.Exit(1)
		}
	}

	for _, path := range options.FilterLists {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("reading filter list", "path", path, slogutil.KeyError, err)

			os.Exit(1)
		}

		added, skipped := engine.Parse(string(data))
		logger.Info("parsed filter list", "path", path, "added", added, "skipped", skipped)
	}

	logger.Info("engine ready", "rules", engine.RuleCount())

	if options.SavePath != "" {
		if !engine.Save(options.SavePath) {
			os.Exit(1)
		}
	}

	requestType := parseRequestType(options.RequestType)

	if options.URL != "" {
		printVerdict(engine, options.URL, options.SourceDomain, requestType)

		return
	}

	if options.SavePath != "" || len(options.FilterLists) > 0 || options.LoadPath != "" {
		if isTerminal() {
			return
		}
	}

	// Read "url source-domain" pairs from stdin.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		url, domain, _ := strings.Cut(line, " ")
		printVerdict(engine, url, domain, requestType)
	}
}

// printVerdict checks one URL and writes the verdict to stdout.
func printVerdict(
	engine *adblock.Engine,
	url string,
	sourceDomain string,
	requestType rules.RequestType,
) {
	verdict := "allowed"
	if engine.MatchesType(url, sourceDomain, requestType) {
		verdict = "blocked"
	}

	fmt.Fprintf(os.Stdout, "%s %s\n", verdict, url)
}

// parseRequestType maps the command-line type name to a request type.
func parseRequestType(name string) (requestType rules.RequestType) {
	switch strings.ToLower(name) {
	case "document":
		return rules.TypeDocument
	case "subdocument":
		return rules.TypeSubdocument
	case "script":
		return rules.TypeScript
	case "stylesheet":
		return rules.TypeStylesheet
	case "object":
		return rules.TypeObject
	case "image":
		return rules.TypeImage
	case "xmlhttprequest":
		return rules.TypeXmlhttprequest
	case "media":
		return rules.TypeMedia
	case "font":
		return rules.TypeFont
	case "websocket":
		return rules.TypeWebsocket
	case "ping":
		return rules.TypePing
	default:
		return rules.TypeOther
	}
}

// isTerminal reports whether stdin is attached to a terminal rather than a
// pipe.
func isTerminal() (ok bool) {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return true
	}

	return fi.Mode()&os.ModeCharDevice != 0
}
