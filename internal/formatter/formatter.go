// package formatter converts library songs and tags to and from export formats (CSV, JSON, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/vibetag/internal/models"
	"github.com/desertthunder/vibetag/internal/shared"
)

// Format is an export file format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
)

// ParseFormat returns the format for a name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// LibraryExport is the JSON export document.
type LibraryExport struct {
	ExportedAt time.Time      `json:"exportedAt"`
	Songs      []*models.Song `json:"songs"`
	Tags       []*models.Tag  `json:"tags"`
}

var csvHeaders = []string{"ID", "Title", "Artist", "AppleMusicID", "ArtworkURL", "Tags", "SyncStatus"}

// tagSeparator joins tag names inside the CSV Tags column.
const tagSeparator = ";"

// ExportToCSV converts songs to CSV with columns: ID, Title, Artist, AppleMusicID, ArtworkURL, Tags, SyncStatus
func ExportToCSV(songs []*models.Song) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, song := range songs {
		record := []string{
			song.ID,
			song.Title,
			song.Artist,
			song.AppleMusicID,
			song.ArtworkURL,
			strings.Join(song.SortedTagNames(), tagSeparator),
			string(song.SyncStatus),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ImportCSV reads songs from CSV. Columns are matched by header name; ID, Title and Artist are
// required, the others optional. Tag names in the Tags column come back as user tags.
func ImportCSV(r io.Reader) ([]*models.Song, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty CSV", shared.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "title", "artist"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: missing CSV column %q", shared.ErrInvalidInput, required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var songs []*models.Song
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		song := models.NewSong(field(record, "id"), field(record, "title"), field(record, "artist"))
		song.AppleMusicID = field(record, "applemusicid")
		song.ArtworkURL = field(record, "artworkurl")
		for name := range strings.SplitSeq(field(record, "tags"), tagSeparator) {
			if name = models.NormalizeTagName(name); name != "" {
				song.Tags = append(song.Tags, models.Tag{Name: name})
			}
		}

		if err := song.Validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", shared.ErrInvalidInput, line, err)
		}
		songs = append(songs, song)
	}

	return songs, nil
}

// ExportToJSON converts songs and the tag catalogue to an indented JSON document.
func ExportToJSON(songs []*models.Song, tags []*models.Tag) ([]byte, error) {
	if songs == nil {
		songs = []*models.Song{}
	}
	if tags == nil {
		tags = []*models.Tag{}
	}
	return shared.MarshalJSON(LibraryExport{ExportedAt: time.Now().UTC(), Songs: songs, Tags: tags}, true)
}

// ExportToMarkdown converts songs to a Markdown document grouped under a tag summary.
func ExportToMarkdown(songs []*models.Song, tags []*models.Tag) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# VibeTag Library\n\n")
	buf.WriteString(fmt.Sprintf("**Songs**: %d\n", len(songs)))
	buf.WriteString(fmt.Sprintf("**Tags**: %d\n\n", len(tags)))

	if len(tags) > 0 {
		buf.WriteString("## Tags\n\n")
		buf.WriteString("| Name | Origin | Color | Description |\n")
		buf.WriteString("| --- | --- | --- | --- |\n")
		for _, tag := range tags {
			buf.WriteString(fmt.Sprintf("| %s | %s | `%s` | %s |\n", tag.Name, TagOrigin(tag), tag.HexColor, tag.Description))
		}
		buf.WriteString("\n")
	}

	buf.WriteString("## Songs\n\n")
	for i, song := range songs {
		buf.WriteString(fmt.Sprintf("%d. %s - %s", i+1, song.Artist, song.Title))
		if names := song.SortedTagNames(); len(names) > 0 {
			buf.WriteString(" `" + strings.Join(names, "` `") + "`")
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText converts songs to plain text format
func ExportToText(songs []*models.Song) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Songs: %d\n\n", len(songs)))
	for i, song := range songs {
		buf.WriteString(fmt.Sprintf("%d. %s - %s", i+1, song.Artist, song.Title))
		if names := song.SortedTagNames(); len(names) > 0 {
			buf.WriteString(fmt.Sprintf(" [%s]", strings.Join(names, ", ")))
		}
		if song.SyncStatus == models.PendingUpload {
			buf.WriteString(" (pending)")
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// TagOrigin labels a tag as "system" or "user".
func TagOrigin(tag *models.Tag) string {
	if tag.IsSystemTag {
		return "system"
	}
	return "user"
}

// Export renders songs and tags in the given format.
func Export(format Format, songs []*models.Song, tags []*models.Tag) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(songs)
	case FormatJSON:
		return ExportToJSON(songs, tags)
	case FormatMarkdown:
		return ExportToMarkdown(songs, tags)
	case FormatText:
		return ExportToText(songs)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteExport renders the library in format and writes it to path.
//
// Defaults to vibetag_library.{format} as the filename.
func WriteExport(format Format, songs []*models.Song, tags []*models.Tag, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("vibetag_library.%s", format)
	}

	data, err := Export(format, songs, tags)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}
