package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

var kst = time.FixedZone("KST", 9*60*60)

const searchPageHTML = `<html><body>
<div class="category_selector"><div class="tab_header"><ul class="goods_type">
  <li><a class="vmTab" data-count="1,234" href="#">가격비교</a></li>
</ul></div></div>
<div class="main_prodlist main_prodlist_list">
  <ul class="product_list">
    <li class="prod_item">
      <div class="prod_main_info">
        <div class="prod_info"><p class="prod_name"><a href="http://prod.danawa.com/info/?pcode=1">삼성전자 990 PRO</a></p></div>
        <div class="prod_pricelist"><ul>
          <li><p class="memory_sect"><span class="rank">1위</span><a href="http://prod.danawa.com/info/?pcode=1&cate=112760">1TB</a><em class="lowest">최저</em></p><span class="memory_price_sect">150,000원</span></li>
          <li><p class="memory_sect"><a href="/info/?pcode=2&cate=112760">2TB</a></p></li>
        </ul></div>
      </div>
    </li>
    <li class="prod_item">
      <div class="prod_main_info">
        <div class="prod_info"><p class="prod_name"><a>WD SN850X</a></p></div>
        <div class="prod_pricelist"><ul>
          <li><p class="memory_sect"><a href="#bundle"></a></p></li>
          <li><span>no memory section</span></li>
        </ul></div>
      </div>
    </li>
  </ul>
</div>
</body></html>`

func TestSearchPage(t *testing.T) {
	t.Parallel()

	result, err := New(kst).SearchPage([]byte(searchPageHTML))
	require.NoError(t, err)
	require.NotNil(t, result.TotalCount)
	require.Equal(t, 1234, *result.TotalCount)
	require.Len(t, result.Listings, 2)

	first := result.Listings[0]
	require.Equal(t, "삼성전자 990 PRO", *first.Name)
	require.Len(t, first.Variants, 2)
	require.Equal(t, "1TB", *first.Variants[0].Label, "rank and price decorations are stripped")
	require.Equal(t, "http://prod.danawa.com/info/?pcode=1&cate=112760", *first.Variants[0].URL)
	require.Equal(t, "/info/?pcode=2&cate=112760", *first.Variants[1].URL)

	second := result.Listings[1]
	require.Len(t, second.Variants, 2)
	require.Equal(t, "", *second.Variants[0].Label)
	require.Equal(t, "#bundle", *second.Variants[0].URL)
	require.Nil(t, second.Variants[1].Label)
	require.Nil(t, second.Variants[1].URL)
}

func TestSearchPageWithoutCount(t *testing.T) {
	t.Parallel()

	result, err := New(kst).SearchPage([]byte(`<html><body><p>검색결과가 없습니다</p></body></html>`))
	require.NoError(t, err)
	require.Nil(t, result.TotalCount)
	require.Empty(t, result.Listings)
}

const productPageHTML = `<html><head>
<script src="/js/common.js"></script>
<script>
	var oCurrentNavigation = {"1": {"code": 860, "name": "PC부품", "depth": 1}, "2": {"code": 112758, "name": "SSD", "parent": 860, "depth": 2}};
	var oGlobalSetting = {"sGroupName": "컴퓨터", "nCategoryCode": 112760, "nCategoryCode1": 860, "nCategoryCode2": 112758, "nCategoryCode3": 112760, "nCategoryCode4": 0};
	var oPriceCompareSetting = {"sProductFullName": "삼성전자 990 PRO 1TB", "nPriceCompareCount": 12};
	var oProductDescriptionInfo = {"nProductCode": 17353955};
	var oPhysicalCategoryNameList = ["PC부품", "저장장치", "SSD"];
</script>
</head><body>
<div class="top_summary"><h3 class="prod_tit">삼성전자 990 PRO 1TB</h3></div>
<div class="summary_info"><div class="detail_summary"><div class="thumb_area">
  <div class="made_info"><span class="txt">등록월: 2023.05.</span><span id="makerTxtArea">제조사: 삼성전자</span></div>
</div></div></div>
<div class="lowest_area"><div class="lowest_list"><table class="lwst_tbl">
  <tbody class="high_list">
    <tr class="cash_lowest first">
      <td class="mall"><div class="logo_over"><a href="#"><img alt=" 11번가 " src="x.png"></a></div></td>
      <td class="price"><a><span class="txt_prc"><em>149,000</em>원</span></a></td>
      <td class="ship"><span class="stxt">무료배송</span></td>
      <td class="bnfit"><a>카드할인</a></td>
    </tr>
    <tr>
      <td class="mall"><div class="logo_over"><a href="#">G마켓</a></div></td>
      <td class="price"><span class="txt_prc"><em>151,000원</em></span></td>
      <td class="ship"><span class="stxt">2,500원</span></td>
    </tr>
  </tbody>
</table></div></div>
</body></html>`

func TestProductPage(t *testing.T) {
	t.Parallel()

	page, err := New(kst).ProductPage([]byte(productPageHTML))
	require.NoError(t, err)

	require.Equal(t, "삼성전자 990 PRO 1TB", *page.Name)
	require.Equal(t, "삼성전자", *page.Maker)
	require.NotNil(t, page.RegisteredAt)
	require.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, kst).Unix(), *page.RegisteredAt)

	state := page.State
	require.True(t, state.ScriptsFound)
	require.Equal(t, "PC부품", state.Navigation["1"].Name)
	require.Equal(t, "112758", state.Navigation["2"].Code)
	require.Equal(t, "860", state.Navigation["2"].Parent)
	require.NotNil(t, state.Global)
	require.Equal(t, "컴퓨터", *state.Global.GroupName)
	require.Equal(t, "112760", *state.Global.CategoryCode)
	require.Equal(t, "860", *state.Global.Cate1)
	require.Equal(t, "0", *state.Global.Cate4)
	require.Equal(t, "삼성전자 990 PRO 1TB", state.PriceCompare["sProductFullName"])
	require.NotNil(t, state.ProductDescription)
	require.Equal(t, []string{"PC부품", "저장장치", "SSD"}, state.PhysicalCategories)

	require.True(t, page.OffersPresent)
	require.Len(t, page.Offers, 2)
	first := page.Offers[0]
	require.Equal(t, 1, *first.Rank)
	require.Equal(t, "cash_lowest", *first.Option)
	require.Equal(t, "11번가", *first.Mall)
	require.Equal(t, "149000", *first.Price)
	require.Equal(t, "무료배송", *first.Shipping)
	require.Equal(t, "카드할인", *first.Benefit)

	second := page.Offers[1]
	require.Equal(t, 2, *second.Rank)
	require.Nil(t, second.Option)
	require.Equal(t, "G마켓", *second.Mall)
	require.Equal(t, "151000", *second.Price)
	require.Equal(t, "2500", *second.Shipping)
	require.Nil(t, second.Benefit)
}

func TestProductPageWithoutScriptsOrTable(t *testing.T) {
	t.Parallel()

	page, err := New(kst).ProductPage([]byte(`<html><body><div class="top_summary"><h3>단종 상품</h3></div></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "단종 상품", *page.Name)
	require.Nil(t, page.Maker)
	require.Nil(t, page.RegisteredAt)
	require.False(t, page.State.ScriptsFound)
	require.False(t, page.OffersPresent)
	require.Empty(t, page.Offers)
}

const nativeReviewHTML = `<div class="sub_tab sub_tab_v2"><ul>
  <li class="tab_item"><a id="danawa-prodBlog-productOpinion-button-tab-productOpinion"><span class="cen_w">상품의견 <strong>1,024</strong></span></a></li>
  <li class="tab_item"><a id="danawa-prodBlog-productOpinion-button-tab-companyReview"><span class="cen_w">쇼핑몰 상품리뷰 <strong>37</strong></span></a></li>
</ul></div>
<div class="danawa_review"><div class="post_comments"><ul>
  <li id="danawa-prodBlog-productOpinion-list-self-101">
    <div class="cont_area">
      <div class="r_info">
        <div class="user_info"><a class="id_name danawa-prodBlog-memberInfo-clazz"><strong>kimssd</strong></a></div>
        <span class="date">2024.02.03 10:20:30</span><span class="ip">211.*.*.12</span>
      </div>
      <div id="danawa-prodBlog-productOpinion-list-wrap-101">
        <div id="danawa-prodBlog-productOpinion-content-text-101"> 속도가 매우 빠릅니다 </div>
        <button id="danawa-prodBlog-productOpinion-button-recommend-101"><span class="num_c">7</span></button>
      </div>
    </div>
  </li>
  <li id="danawa-prodBlog-productOpinion-list-self-102" class="sub_item">
    <div class="cont_area"><div class="r_info"><span class="date">2024.02.04 11:00:00</span></div>
    <div id="danawa-prodBlog-productOpinion-content-text-102">답글입니다</div></div>
  </li>
</ul></div></div>`

func TestReviewTotals(t *testing.T) {
	t.Parallel()

	totals, err := New(kst).ReviewTotals([]byte(nativeReviewHTML))
	require.NoError(t, err)
	require.Equal(t, 1024, *totals.Native)
	require.Equal(t, 37, *totals.Mall)

	empty, err := New(kst).ReviewTotals([]byte(`<div></div>`))
	require.NoError(t, err)
	require.Nil(t, empty.Native)
	require.Nil(t, empty.Mall)
}

func TestNativeReviews(t *testing.T) {
	t.Parallel()

	page, err := New(kst).NativeReviews([]byte(nativeReviewHTML))
	require.NoError(t, err)
	require.True(t, page.ListingPresent)
	require.False(t, page.NoContent)
	require.Len(t, page.Reviews, 2)

	first := page.Reviews[0]
	require.False(t, first.IsReply)
	require.Equal(t, crawler.SourceNative, first.Source)
	require.Equal(t, "kimssd", *first.Author)
	require.Equal(t, "211.*.*.12", *first.AuthorIP)
	require.Equal(t, "속도가 매우 빠릅니다", *first.Body)
	require.Equal(t, 7, *first.Likes)
	require.Equal(t, time.Date(2024, 2, 3, 10, 20, 30, 0, kst).Unix(), *first.PublishedAt)

	reply := page.Reviews[1]
	require.True(t, reply.IsReply)
	require.Nil(t, reply.Author)
	require.Equal(t, 0, *reply.Likes)
}

func TestNativeReviewsNoContent(t *testing.T) {
	t.Parallel()

	page, err := New(kst).NativeReviews([]byte(`<html><body><script>var result = "NO_CONTENT";</script></body></html>`))
	require.NoError(t, err)
	require.False(t, page.ListingPresent)
	require.True(t, page.NoContent)

	other, err := New(kst).NativeReviews([]byte(`<html><body><p>temporary error</p></body></html>`))
	require.NoError(t, err)
	require.False(t, other.ListingPresent)
	require.False(t, other.NoContent)
}

const mallReviewHTML = `<div class="mall_review"><div class="area_right"><ul class="rvw_list">
  <li id="danawa-prodBlog-companyReview-content-1">
    <div class="top_info">
      <span class="star_mask">5점</span><span class="date">2024.03.05</span>
      <span class="mall">쿠팡</span><span class="name">lee**</span>
    </div>
    <div class="rvw_atc"><div class="tit_W"><p class="tit">만족</p></div><div class="atc">잘 쓰고 있어요</div></div>
  </li>
  <li class="ad"><div class="top_info"><span class="mall">광고</span></div></li>
</ul></div></div>`

func TestMallReviews(t *testing.T) {
	t.Parallel()

	page, err := New(kst).MallReviews([]byte(mallReviewHTML))
	require.NoError(t, err)
	require.True(t, page.ListingPresent)
	require.Len(t, page.Reviews, 1, "rows without a review id are ignored")

	r := page.Reviews[0]
	require.Equal(t, crawler.SourceMall, r.Source)
	require.Equal(t, "쿠팡", *r.Mall)
	require.Equal(t, "lee**", *r.Author)
	require.Equal(t, "5", *r.Rating)
	require.Equal(t, "만족", *r.Title)
	require.Equal(t, "잘 쓰고 있어요", *r.Body)
	require.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, kst).Unix(), *r.PublishedAt)
	require.Equal(t, "쿠팡", r.Tag())
}

func TestMallReviewsEmptyListing(t *testing.T) {
	t.Parallel()

	page, err := New(kst).MallReviews([]byte(`<div class="mall_review"><div class="area_right"><ul class="rvw_list"></ul></div></div>`))
	require.NoError(t, err)
	require.True(t, page.ListingPresent)
	require.Empty(t, page.Reviews)

	missing, err := New(kst).MallReviews([]byte(`<p>NO_CONTENT</p>`))
	require.NoError(t, err)
	require.False(t, missing.ListingPresent)
	require.True(t, missing.NoContent)
}
