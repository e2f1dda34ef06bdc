package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

type formatColumn struct {
	header string
	align  text.Align
	value  func(model.FormatCandidate) string
}

var formatColumns = []formatColumn{
	{"Format", text.AlignLeft, func(c model.FormatCandidate) string { return c.FormatID }},
	{"Quality", text.AlignRight, func(c model.FormatCandidate) string { return c.Quality }},
	{"Ext", text.AlignLeft, func(c model.FormatCandidate) string { return c.Ext }},
	{"Streams", text.AlignLeft, streamsOf},
	{"Codecs", text.AlignLeft, codecsOf},
	{"FPS", text.AlignRight, func(c model.FormatCandidate) string {
		if c.FPS == nil {
			return ""
		}
		return strconv.FormatFloat(*c.FPS, 'f', -1, 64)
	}},
	{"Size", text.AlignRight, func(c model.FormatCandidate) string { return c.FilesizeHuman }},
}

// renderFormats lays out selected format candidates in the order the API
// returns them.
func renderFormats(candidates []model.FormatCandidate) string {
	if len(candidates) == 0 {
		return "no downloadable formats"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault

	header := make(table.Row, len(formatColumns))
	configs := make([]table.ColumnConfig, len(formatColumns))
	for i, col := range formatColumns {
		header[i] = col.header
		configs[i] = table.ColumnConfig{Number: i + 1, Align: col.align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	progressive := 0
	for _, c := range candidates {
		row := make(table.Row, len(formatColumns))
		for i, col := range formatColumns {
			row[i] = col.value(c)
		}
		tw.AppendRow(row)
		if c.Progressive {
			progressive++
		}
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d formats, %d with audio", len(candidates), progressive)})

	return tw.Render()
}

// Progressive formats carry audio and video in one file; the rest need a merge.
func streamsOf(c model.FormatCandidate) string {
	if c.Progressive {
		return "video+audio"
	}
	return "video only"
}

func codecsOf(c model.FormatCandidate) string {
	switch {
	case c.VCodec == "" && c.ACodec == "":
		return ""
	case c.ACodec == "" || c.ACodec == "none":
		return c.VCodec
	default:
		return c.VCodec + "/" + c.ACodec
	}
}
