package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examdb/internal/generator"
	"github.com/pavelanni/examdb/internal/model"
	"github.com/pavelanni/examdb/internal/store"
)

func courseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Manage courses",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a course from a course or syllabus JSON file",
		RunE:  runCourseAdd,
	}
	add.Flags().StringP("file", "f", "", "Course or syllabus JSON file (required)")
	commonFlags(add.Flags())
	_ = add.MarkFlagRequired("file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered courses",
		RunE:  runCourseList,
	}
	commonFlags(list.Flags())

	cmd.AddCommand(add, list)
	return cmd
}

func examCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exam",
		Short: "Manage stored exams",
	}

	imp := &cobra.Command{
		Use:   "import",
		Short: "Store an exam JSON file for a course",
		RunE:  runExamImport,
	}
	f := imp.Flags()
	f.StringP("course", "c", "", "Course code or ID (required)")
	f.StringP("file", "f", "", "Exam content JSON file (required)")
	f.StringP("type", "t", string(model.ExamImported), "Exam type (practice, lab, project, final, imported)")
	f.String("creator", "", "Creator recorded on the exam")
	commonFlags(f)
	_ = imp.MarkFlagRequired("course")
	_ = imp.MarkFlagRequired("file")

	cmd.AddCommand(imp)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an exam with the LLM and store it",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.StringP("course", "c", "", "Course code or ID (required)")
	f.StringP("type", "t", string(model.ExamPractice), "Exam type (practice, lab, project, final)")
	f.StringP("syllabus", "s", "", "Syllabus JSON file supplying objectives, goals and chapters")
	f.StringSlice("chapters", nil, "Chapters to cover (overrides the syllabus schedule)")
	f.StringP("difficulty", "d", "", "Difficulty (easy, medium, hard)")
	f.IntP("num-questions", "n", 0, "Number of questions (0 = default)")
	f.StringSlice("question-types", nil, "Question types to use")
	f.String("extra", "", "Additional instructions for the LLM")
	f.String("creator", "", "Creator recorded on the exam")
	f.StringP("output", "o", "", "Also write the generated content to this file (- for stdout)")
	commonFlags(f)
	llmFlags(f)
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func syllabusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syllabus",
		Short: "Generate course syllabi",
	}

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate a syllabus document from basic course information",
		RunE:  runSyllabusGenerate,
	}
	f := gen.Flags()
	f.StringP("file", "f", "", "Course information JSON file, bare or under basic_info (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.Bool("register", false, "Also register the course")
	commonFlags(f)
	llmFlags(f)
	_ = gen.MarkFlagRequired("file")

	cmd.AddCommand(gen)
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show monthly usage statistics",
		RunE:  runStats,
	}
	cmd.Flags().StringP("course", "c", "", "Course code or ID (default all courses)")
	commonFlags(cmd.Flags())
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a course with its exams, questions and statistics as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.StringP("course", "c", "", "Course code or ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	commonFlags(f)
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

// resolveCourse finds a course by numeric ID or by course code.
func resolveCourse(ctx context.Context, db *store.Store, ref string) (model.Course, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		c, err := db.GetCourse(ctx, id)
		if !errors.Is(err, store.ErrNotFound) {
			return c, err
		}
	}
	c, err := db.GetCourseByCode(ctx, ref)
	if err != nil {
		return model.Course{}, fmt.Errorf("course %q: %w", ref, err)
	}
	return c, nil
}

func runCourseAdd(cmd *cobra.Command, _ []string) error {
	db, v, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := os.ReadFile(v.GetString("file"))
	if err != nil {
		return fmt.Errorf("read course file: %w", err)
	}
	course, err := parseCourseFile(data)
	if err != nil {
		return err
	}

	id, err := db.AddCourse(cmd.Context(), course)
	if err != nil {
		return fmt.Errorf("add course: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added course %s (id %d)\n", course.Code, id)
	return nil
}

// parseCourseFile accepts a syllabus document (with basic_info) or a plain
// course object.
func parseCourseFile(data []byte) (model.Course, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return model.Course{}, fmt.Errorf("parse course file: %w", err)
	}
	if _, ok := fields["basic_info"]; ok {
		syl, err := model.ParseSyllabus(data)
		if err != nil {
			return model.Course{}, err
		}
		return syl.Course(), nil
	}
	var c model.Course
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Course{}, fmt.Errorf("parse course file: %w", err)
	}
	return c, nil
}

func runCourseList(cmd *cobra.Command, _ []string) error {
	db, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	courses, err := db.ListCourses(cmd.Context())
	if err != nil {
		return fmt.Errorf("list courses: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tNAME\tDEPARTMENT\tCREDITS")
	for _, c := range courses {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", c.ID, c.Code, c.NameCN, c.Department, c.Credits)
	}
	return tw.Flush()
}

func runExamImport(cmd *cobra.Command, _ []string) error {
	db, v, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	course, err := resolveCourse(cmd.Context(), db, v.GetString("course"))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(v.GetString("file"))
	if err != nil {
		return fmt.Errorf("read exam file: %w", err)
	}

	id, err := db.SaveExam(cmd.Context(), model.Exam{
		CourseID: course.ID,
		ExamType: model.ExamType(v.GetString("type")),
		Content:  data,
		Creator:  v.GetString("creator"),
	})
	if err != nil {
		return fmt.Errorf("save exam: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved exam %d for course %s\n", id, course.Code)
	return nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	db, v, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	gen, err := newGenerator(cmd.Context(), v, db, false)
	if err != nil {
		return err
	}
	if gen == nil {
		return errors.New("LLM key is required: set --llm-key or EXAMDB_LLM_KEY")
	}

	course, err := resolveCourse(cmd.Context(), db, v.GetString("course"))
	if err != nil {
		return err
	}

	req := generator.Request{
		CourseID:      course.ID,
		ExamType:      model.ExamType(v.GetString("type")),
		Chapters:      v.GetStringSlice("chapters"),
		Difficulty:    v.GetString("difficulty"),
		NumQuestions:  v.GetInt("num-questions"),
		QuestionTypes: v.GetStringSlice("question-types"),
		ExtraInfo:     v.GetString("extra"),
		Creator:       v.GetString("creator"),
	}
	if path := v.GetString("syllabus"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read syllabus: %w", err)
		}
		syl, err := model.ParseSyllabus(data)
		if err != nil {
			return err
		}
		req.Objectives = syl.CourseObjectives
		req.AACSBGoals = syl.AACSBGoals
		if len(req.Chapters) == 0 {
			req.Chapters = syl.Chapters()
		}
		if req.ExtraInfo == "" {
			req.ExtraInfo = syl.BasicInfo.ExtraInfo
		}
	}

	res, err := gen.Generate(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	slog.Info("exam stored", "exam_id", res.ExamID, "generation_id", res.GenerationID)
	fmt.Fprintf(cmd.OutOrStdout(), "generated %s exam %d (%d questions)\n", res.ExamType, res.ExamID, res.Questions)

	if out := v.GetString("output"); out != "" {
		return writeJSONFile(cmd.OutOrStdout(), out, res.Content)
	}
	return nil
}

func runSyllabusGenerate(cmd *cobra.Command, _ []string) error {
	db, v, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	gen, err := newGenerator(cmd.Context(), v, db, false)
	if err != nil {
		return err
	}
	if gen == nil {
		return errors.New("LLM key is required: set --llm-key or EXAMDB_LLM_KEY")
	}

	data, err := os.ReadFile(v.GetString("file"))
	if err != nil {
		return fmt.Errorf("read course information: %w", err)
	}
	info, err := model.ParseSyllabusInfo(data)
	if err != nil {
		return err
	}
	register := v.GetBool("register")
	if code := strings.TrimSpace(info.CourseCode); register && code != "" {
		if _, err := db.GetCourseByCode(cmd.Context(), code); err == nil {
			return fmt.Errorf("course %s: %w", code, store.ErrConflict)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	res, err := gen.GenerateSyllabus(cmd.Context(), info)
	if err != nil {
		return fmt.Errorf("generate syllabus: %w", err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	if err := writeJSONFile(cmd.OutOrStdout(), v.GetString("output"), res.Syllabus); err != nil {
		return err
	}

	if register {
		course := res.Syllabus.Course()
		id, err := db.AddCourse(cmd.Context(), course)
		if err != nil {
			return fmt.Errorf("add course: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "added course %s (id %d)\n", course.Code, id)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	db, v, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	var courseID int64
	if ref := v.GetString("course"); ref != "" {
		course, err := resolveCourse(cmd.Context(), db, ref)
		if err != nil {
			return err
		}
		courseID = course.ID
	}

	stats, err := db.UsageStatistics(cmd.Context(), courseID)
	if err != nil {
		return fmt.Errorf("usage statistics: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tEXAM TYPE\tCOUNT")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Month, s.ExamType, s.Count)
	}
	return tw.Flush()
}

func runExport(cmd *cobra.Command, _ []string) error {
	db, v, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	course, err := resolveCourse(cmd.Context(), db, v.GetString("course"))
	if err != nil {
		return err
	}
	export, err := db.ExportCourse(cmd.Context(), course.ID)
	if err != nil {
		return fmt.Errorf("export course: %w", err)
	}
	return writeJSONFile(cmd.OutOrStdout(), v.GetString("output"), export)
}

// writeJSONFile writes v as indented JSON to path, or to stdout for "" and "-".
func writeJSONFile(stdout io.Writer, path string, v any) (err error) {
	var w io.Writer
	if path == "" || path == "-" {
		w = stdout
	} else {
		f, createErr := os.Create(path)
		if createErr != nil {
			return fmt.Errorf("create output file: %w", createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close output file: %w", cerr)
			}
		}()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
