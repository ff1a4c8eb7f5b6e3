package transcode

import "strconv"

// fetchArgs builds the fetch-stage command line. The selector depends on
// whether the job wants the audio-only stream or combined audio+video; both
// write the raw media to standard output.
func fetchArgs(sourceURL, cookiePath string, audioOnly bool) []string {
	selector := "bv*[vcodec^=avc1]+ba/b"
	if audioOnly {
		selector = "ba/b"
	}
	return []string{
		"--no-playlist",
		"--cookies", cookiePath,
		"-f", selector,
		"-o", "-",
		sourceURL,
	}
}

// encodeArgs builds the encode-stage command line. The encoder reads from
// standard input and writes fixed-duration segments plus the playlist into
// its working directory.
func encodeArgs(playlistPath string, segmentSeconds int, audioOnly bool) []string {
	args := []string{"-i", "pipe:0"}
	if audioOnly {
		args = append(args, "-vn")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "23",
			"-g", "60",
			"-keyint_min", "60",
			"-sc_threshold", "0",
		)
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-ar", "44100",
		"-af", "aresample=async=1",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments+append_list",
		"-start_number", "0",
		"-f", "hls",
		playlistPath,
	)
	return args
}
