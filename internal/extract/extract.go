// Package extract turns raw Last.fm page HTML into typed records via
// structural document queries. Nodes missing required fields are skipped
// silently: partial markup is expected noise from a live site.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// TrackRecord is one Spotify-to-Last.fm track mapping scraped from an
// artist track-listing page. All six fields are required on the node.
type TrackRecord struct {
	SpotifyID  string
	SpotifyURL string
	TrackName  string
	TrackURL   string
	ArtistName string
	ArtistURL  string
}

// ArtistRecord is one artist link scraped from a user library page.
type ArtistRecord struct {
	Name      string
	ArtistURL string
}

// UserRecord is one user link scraped from a followers page.
type UserRecord struct {
	Name    string
	UserURL string
}

func parse(content []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}

// TrackRecords extracts every complete track row from an artist
// track-listing page. The result is rebuilt from the input on each call.
func TrackRecords(content []byte) ([]TrackRecord, error) {
	doc, err := parse(content)
	if err != nil {
		return nil, err
	}

	var records []TrackRecord
	doc.Find("a.chartlist-play-button").Each(func(_ int, s *goquery.Selection) {
		spotifyID, ok := s.Attr("data-spotify-id")
		if !ok {
			return
		}
		spotifyURL, ok := s.Attr("data-spotify-url")
		if !ok {
			return
		}
		trackName, ok := s.Attr("data-track-name")
		if !ok {
			return
		}
		trackURL, ok := s.Attr("data-track-url")
		if !ok {
			return
		}
		artistName, ok := s.Attr("data-artist-name")
		if !ok {
			return
		}
		artistURL, ok := s.Attr("data-artist-url")
		if !ok {
			return
		}
		records = append(records, TrackRecord{
			SpotifyID:  spotifyID,
			SpotifyURL: spotifyURL,
			TrackName:  trackName,
			TrackURL:   trackURL,
			ArtistName: artistName,
			ArtistURL:  artistURL,
		})
	})
	return records, nil
}

// ArtistRecords extracts every artist link from a user library page.
// Anchor text is entity-decoded by the HTML parser.
func ArtistRecords(content []byte) ([]ArtistRecord, error) {
	doc, err := parse(content)
	if err != nil {
		return nil, err
	}

	var records []ArtistRecord
	doc.Find("a.link-block-target").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		name := strings.TrimSpace(s.Text())
		if name == "" {
			return
		}
		records = append(records, ArtistRecord{Name: name, ArtistURL: href})
	})
	return records, nil
}

// UserRecords extracts every follower link from a user followers page.
func UserRecords(content []byte) ([]UserRecord, error) {
	doc, err := parse(content)
	if err != nil {
		return nil, err
	}

	var records []UserRecord
	doc.Find("a.user-list-link").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		name := strings.TrimSpace(s.Text())
		if name == "" {
			return
		}
		records = append(records, UserRecord{Name: name, UserURL: href})
	})
	return records, nil
}
