// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"fmt"
	"strings"
)

const sampleArticleSet = `<?xml version="1.0" ?>
<!DOCTYPE PubmedArticleSet PUBLIC "-//NLM//DTD PubMedArticle, 1st January 2024//EN" "https://dtd.nlm.nih.gov/ncbi/pubmed/out/pubmed_240101.dtd">
<PubmedArticleSet>
<PubmedArticle>
  <MedlineCitation Status="MEDLINE" Owner="NLM">
    <PMID Version="1">31452104</PMID>
    <Article PubModel="Print-Electronic">
      <Journal>
        <Title>Nature medicine</Title>
        <JournalIssue CitedMedium="Internet">
          <PubDate><Year>2019</Year><Month>Sep</Month><Day>12</Day></PubDate>
        </JournalIssue>
      </Journal>
      <ArticleTitle>CRISPR-based <i>in vivo</i> editing.</ArticleTitle>
      <Abstract>
        <AbstractText Label="BACKGROUND">Gene editing is promising.</AbstractText>
        <AbstractText Label="METHODS">We edited <sup>2</sup> loci.</AbstractText>
        <AbstractText Label="RESULTS">It worked.</AbstractText>
      </Abstract>
      <AuthorList CompleteYN="Y">
        <Author ValidYN="Y">
          <LastName>Doudna</LastName><ForeName>Jennifer A</ForeName><Initials>JA</Initials>
          <AffiliationInfo><Affiliation>UC Berkeley, CA, USA.</Affiliation></AffiliationInfo>
          <AffiliationInfo><Affiliation>HHMI, MD, USA.</Affiliation></AffiliationInfo>
        </Author>
        <Author ValidYN="Y">
          <LastName>Zhang</LastName><ForeName>Feng</ForeName><Initials>F</Initials>
        </Author>
        <Author ValidYN="Y"><CollectiveName>CRISPR Consortium</CollectiveName></Author>
      </AuthorList>
      <ELocationID EIdType="doi" ValidYN="Y">10.9999/eloc.1</ELocationID>
    </Article>
    <KeywordList Owner="NOTNLM">
      <Keyword MajorTopicYN="N">CRISPR</Keyword>
      <Keyword MajorTopicYN="N">gene editing</Keyword>
    </KeywordList>
  </MedlineCitation>
  <PubmedData>
    <ArticleIdList>
      <ArticleId IdType="pubmed">31452104</ArticleId>
      <ArticleId IdType="doi">10.1038/s41591-019-0001-1</ArticleId>
    </ArticleIdList>
  </PubmedData>
</PubmedArticle>
<PubmedArticle>
  <MedlineCitation Status="MEDLINE" Owner="NLM">
    <PMID Version="1">20000002</PMID>
    <Article PubModel="Print">
      <Journal>
        <Title>Science</Title>
        <JournalIssue><PubDate><MedlineDate>1998 Dec-1999 Jan</MedlineDate></PubDate></JournalIssue>
      </Journal>
      <ArticleTitle>A single abstract.</ArticleTitle>
      <Abstract><AbstractText Label="UNLABELLED">Only one section.</AbstractText></Abstract>
      <ELocationID EIdType="doi" ValidYN="Y">10.9999/eloc.2</ELocationID>
    </Article>
  </MedlineCitation>
</PubmedArticle>
</PubmedArticleSet>`

// articleSetFor builds a minimal EFetch document holding one article per id.
func articleSetFor(ids ...string) string {
	var b strings.Builder
	b.WriteString("<PubmedArticleSet>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<PubmedArticle><MedlineCitation><PMID>%s</PMID><Article><ArticleTitle>Title %s</ArticleTitle><Journal><Title>J</Title><JournalIssue><PubDate><Year>2020</Year></PubDate></JournalIssue></Journal></Article></MedlineCitation></PubmedArticle>`, id, id)
	}
	b.WriteString("</PubmedArticleSet>")
	return b.String()
}
