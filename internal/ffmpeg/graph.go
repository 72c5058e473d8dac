package ffmpeg

import (
	"fmt"
	"strings"
)

// xfadeNames maps the project transition styles onto ffmpeg xfade
// transition names. Cut has no entry; it concatenates without a filter.
var xfadeNames = map[string]string{
	"crossfade": "fade",
	"dissolve":  "dissolve",
	"wipeleft":  "wipeleft",
	"slideleft": "slideleft",
}

// XfadeName returns the ffmpeg transition name for a style, empty for cut.
func XfadeName(style string) string {
	return xfadeNames[style]
}

// spriteFilter samples the fixed frame count evenly over the clip and
// tiles the thumbnails into one sheet.
func spriteFilter(duration float64) string {
	rate := float64(SpriteFrames) / duration
	return fmt.Sprintf("fps=%.6f,scale=%d:%d,tile=%dx%d",
		rate, SpriteCellW, SpriteCellH, SpriteCols, SpriteRows)
}

// segmentArgs builds the trim+transcode invocation for one clip. Clips
// without an audio stream get a generated silent bed so every segment
// enters the mux with identical stream layout.
func segmentArgs(spec SegmentSpec) []string {
	length := spec.Length()

	args := []string{
		"-y",
		"-ss", formatSeconds(spec.TrimIn),
		"-i", spec.Input,
	}
	if !spec.HasAudio {
		args = append(args,
			"-f", "lavfi",
			"-t", formatSeconds(length),
			"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		)
	}

	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d,format=yuv420p",
		SegmentWidth, SegmentHeight, SegmentWidth, SegmentHeight, SegmentFPS)

	args = append(args,
		"-t", formatSeconds(length),
		"-vf", vf,
		"-c:v", "libx264",
		"-crf", "23",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-ac", "2",
	)
	if !spec.HasAudio {
		args = append(args, "-map", "0:v", "-map", "1:a")
	}
	args = append(args, spec.Output)
	return args
}

// concatList renders the ffconcat input list used for cut transitions.
func concatList(segments []SegmentInfo) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("file '%s'\n", strings.ReplaceAll(seg.Path, "'", `'\''`)))
	}
	return b.String()
}

// cutArgs builds the concat-demuxer invocation: stream copy when no
// music bed is mixed in, otherwise an amix over the copied video.
func cutArgs(spec MuxSpec, listPath string) []string {
	args := []string{
		"-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
	}

	if spec.Audio == nil {
		args = append(args, "-c", "copy")
		args = append(args, progressArgs()...)
		args = append(args, spec.Output)
		return args
	}

	args = append(args, "-stream_loop", "-1", "-i", spec.Audio.Path)
	filter := fmt.Sprintf(
		"[1:a]volume=%.4f[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[aout]",
		spec.Audio.Volume)
	args = append(args,
		"-filter_complex", filter,
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "128k",
		"-shortest",
	)
	args = append(args, progressArgs()...)
	args = append(args, spec.Output)
	return args
}

// xfadeArgs builds the filter_complex invocation chaining xfade for
// video and acrossfade for segment audio, with the optional music bed
// mixed over the result. Transitions overlap: each one eats
// TransitionDuration seconds off the combined length.
func xfadeArgs(spec MuxSpec) []string {
	args := []string{"-y"}
	for _, seg := range spec.Segments {
		args = append(args, "-i", seg.Path)
	}

	musicIndex := -1
	if spec.Audio != nil {
		musicIndex = len(spec.Segments)
		args = append(args, "-stream_loop", "-1", "-i", spec.Audio.Path)
	}

	var graph strings.Builder
	lastV := "[0:v]"
	lastA := "[0:a]"
	offset := 0.0
	fade := spec.TransitionDuration
	name := XfadeName(spec.Transition)

	for i := 1; i < len(spec.Segments); i++ {
		offset += spec.Segments[i-1].Duration - fade

		outV := fmt.Sprintf("[v%d]", i)
		graph.WriteString(fmt.Sprintf("%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s;",
			lastV, i, name, formatSeconds(fade), formatSeconds(offset), outV))
		lastV = outV

		outA := fmt.Sprintf("[a%d]", i)
		graph.WriteString(fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s;",
			lastA, i, formatSeconds(fade), outA))
		lastA = outA
	}

	audioOut := lastA
	if musicIndex != -1 {
		graph.WriteString(fmt.Sprintf("[%d:a]volume=%.4f[bg];", musicIndex, spec.Audio.Volume))
		graph.WriteString(fmt.Sprintf("%s[bg]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[aout];", lastA))
		audioOut = "[aout]"
	}

	filter := strings.TrimSuffix(graph.String(), ";")
	if filter != "" {
		args = append(args, "-filter_complex", filter)
	}

	args = append(args, "-map", lastV, "-map", audioOut)
	if musicIndex != -1 {
		args = append(args, "-shortest")
	}
	args = append(args,
		"-c:v", "libx264",
		"-crf", "23",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
	)
	args = append(args, progressArgs()...)
	args = append(args, spec.Output)
	return args
}

// singleArgs handles the N=1 pass-through: one segment, no compositing.
// The segment is already normalized, so stream copy unless music is mixed.
func singleArgs(spec MuxSpec) []string {
	args := []string{"-y", "-i", spec.Segments[0].Path}

	if spec.Audio == nil {
		args = append(args, "-c", "copy")
	} else {
		args = append(args, "-stream_loop", "-1", "-i", spec.Audio.Path)
		filter := fmt.Sprintf(
			"[1:a]volume=%.4f[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[aout]",
			spec.Audio.Volume)
		args = append(args,
			"-filter_complex", filter,
			"-map", "0:v", "-map", "[aout]",
			"-c:v", "copy",
			"-c:a", "aac", "-b:a", "128k",
			"-shortest",
		)
	}
	args = append(args, progressArgs()...)
	args = append(args, spec.Output)
	return args
}

func progressArgs() []string {
	return []string{"-progress", "pipe:1", "-nostats"}
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
